package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Guilhem-Bonnet/donghua-tracker/internal/app"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/buildinfo"
	"github.com/Guilhem-Bonnet/donghua-tracker/internal/domain"
)

// Client parle à l'API /api/v1 du serveur au nom d'un utilisateur (jeton bearer).
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient remplace le client HTTP (tests, transports custom).
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// APIError est une réponse non-2xx du serveur.
type APIError struct {
	Status  int
	Code    string
	Message string
	// Current est renseigné sur un 409 schedule_changed: l'état serveur à adopter.
	Current *app.SeriesDTO
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func IsInvalidState(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest &&
		(apiErr.Code == "no_air_date" || apiErr.Code == "not_watching")
}

// StaleCurrent renvoie l'état serveur joint à un conflit de planning, s'il y en a un.
func StaleCurrent(err error) (app.SeriesDTO, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.Current != nil {
		return *apiErr.Current, true
	}
	return app.SeriesDTO{}, false
}

func (c *Client) List(ctx context.Context) ([]app.SeriesDTO, error) {
	var out []app.SeriesDTO
	err := c.do(ctx, http.MethodGet, "/donghua", nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (app.SeriesDTO, error) {
	var out app.SeriesDTO
	err := c.do(ctx, http.MethodGet, "/donghua/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) Create(ctx context.Context, in app.SeriesInput) (app.SeriesDTO, error) {
	var out app.SeriesDTO
	err := c.do(ctx, http.MethodPost, "/donghua", in, &out)
	return out, err
}

func (c *Client) Update(ctx context.Context, id string, in app.SeriesInput) (app.SeriesDTO, error) {
	var out app.SeriesDTO
	err := c.do(ctx, http.MethodPut, "/donghua/"+url.PathEscape(id), in, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/donghua/"+url.PathEscape(id), nil, nil)
}

// AdvanceOneEpisode demande au serveur de marquer l'épisode courant comme diffusé.
// expected est l'air time lu par l'appelant (nil = sans condition).
func (c *Client) AdvanceOneEpisode(ctx context.Context, id string, expected *time.Time) (app.AdvanceResponse, error) {
	var body any
	if expected != nil {
		body = map[string]any{"expectedAirDate": expected.UTC()}
	}
	var out app.AdvanceResponse
	err := c.do(ctx, http.MethodPost, "/donghua/"+url.PathEscape(id)+"/update-next-episode", body, &out)
	return out, err
}

func (c *Client) CheckExpired(ctx context.Context) (app.SweepResponse, error) {
	var out app.SweepResponse
	err := c.do(ctx, http.MethodPost, "/donghua/check-expired-episodes", nil, &out)
	return out, err
}

func (c *Client) Settings(ctx context.Context) (domain.Settings, error) {
	var out domain.Settings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &out)
	return out, err
}

func (c *Client) PutSettings(ctx context.Context, s domain.Settings) (domain.Settings, error) {
	var out domain.Settings
	err := c.do(ctx, http.MethodPut, "/settings", s, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Version(ctx context.Context) (buildinfo.Info, error) {
	var out buildinfo.Info
	err := c.do(ctx, http.MethodGet, "/version", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dhtrack/"+buildinfo.Version)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var payload struct {
		Error   string         `json:"error"`
		Code    string         `json:"code"`
		Current *app.SeriesDTO `json:"current"`
	}
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	if err := json.Unmarshal(b, &payload); err == nil {
		if payload.Error != "" {
			apiErr.Message = payload.Error
		}
		apiErr.Code = payload.Code
		apiErr.Current = payload.Current
	}
	return apiErr
}
