package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/auth"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/httpjson"
)

type SeriesHandler struct {
	series   *app.SeriesService
	schedule *app.ScheduleService
}

func NewSeriesHandler(series *app.SeriesService, schedule *app.ScheduleService) *SeriesHandler {
	return &SeriesHandler{series: series, schedule: schedule}
}

func (h *SeriesHandler) Routes(r chi.Router) {
	r.Route("/donghua", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Post("/check-expired-episodes", h.checkExpired)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/update-next-episode", h.advance)
	})
}

func (h *SeriesHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 500
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpjson.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	list, err := h.series.List(r.Context(), owner(r), limit)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}

func (h *SeriesHandler) create(w http.ResponseWriter, r *http.Request) {
	var in app.SeriesInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := h.series.Create(r.Context(), owner(r), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusCreated, created)
}

func (h *SeriesHandler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.series.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, s)
}

func (h *SeriesHandler) update(w http.ResponseWriter, r *http.Request) {
	var in app.SeriesInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	updated, err := h.series.Update(r.Context(), owner(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, updated)
}

func (h *SeriesHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.series.Delete(r.Context(), owner(r), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, map[string]string{"message": "Donghua removed"})
}

type advanceRequest struct {
	// ExpectedAirDate est l'air time affiché par le client au moment du déclenchement.
	ExpectedAirDate *time.Time `json:"expectedAirDate,omitempty"`
}

func (h *SeriesHandler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := httpjson.Decode(r, &req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.schedule.AdvanceOneEpisode(r.Context(), owner(r), chi.URLParam(r, "id"), req.ExpectedAirDate)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

func (h *SeriesHandler) checkExpired(w http.ResponseWriter, r *http.Request) {
	res, err := h.schedule.SweepExpired(r.Context(), owner(r), h.schedule.Now())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, res)
}

func owner(r *http.Request) string {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

type staleBody struct {
	Error   string        `json:"error"`
	Code    string        `json:"code"`
	Current app.SeriesDTO `json:"current"`
}

// writeAppError traduit les erreurs applicatives en statut HTTP.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var stale *app.StaleScheduleError
	var coded *app.CodedError
	switch {
	case errors.As(err, &stale):
		httpjson.Write(w, http.StatusConflict, staleBody{Error: stale.Error(), Code: "schedule_changed", Current: stale.Current})
	case errors.Is(err, app.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "Not found")
	case errors.As(err, &coded) && (errors.Is(err, app.ErrInvalidState) || errors.Is(err, app.ErrValidation)):
		httpjson.WriteCodedError(w, http.StatusBadRequest, coded.Code, coded.Error())
	case errors.Is(err, app.ErrInvalidState), errors.Is(err, app.ErrValidation):
		httpjson.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrConflict):
		httpjson.WriteError(w, http.StatusConflict, "already exists")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		httpjson.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
