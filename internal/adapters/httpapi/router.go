package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/auth"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/ports"
)

type Server struct {
	logger   zerolog.Logger
	series   *app.SeriesService
	schedule *app.ScheduleService
	settings *app.SettingsService
	bus      ports.EventBus
	verifier *auth.Verifier
}

func NewServer(logger zerolog.Logger, series *app.SeriesService, schedule *app.ScheduleService, settings *app.SettingsService, bus ports.EventBus, verifier *auth.Verifier) *Server {
	return &Server{logger: logger, series: series, schedule: schedule, settings: settings, bus: bus, verifier: verifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.UserAgentHandler("user_agent"))
	r.Use(hlog.AccessHandler(accessLogFn))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)
		r.Get("/openapi.json", s.handleOpenAPI)

		r.Group(func(r chi.Router) {
			r.Use(s.verifier.Middleware)

			// SSE: pas de timeout global sur cette route.
			r.Get("/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(defaultRequestTimeout))
				if s.series != nil && s.schedule != nil {
					NewSeriesHandler(s.series, s.schedule).Routes(r)
				}
				if s.settings != nil {
					NewSettingsHandler(s.settings).Routes(r)
				}
			})
		})
	})

	return r
}
