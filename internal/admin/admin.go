// Package admin serves the monitor's administrative endpoints: liveness, a
// password protected status report, a password protected stop switch and
// sample history.
package admin

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/angeloszaimis/site-monitor/internal/outcome"
	"github.com/angeloszaimis/site-monitor/internal/scheduler"
	"github.com/angeloszaimis/site-monitor/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Monitor is the part of the scheduler the endpoints need.
type Monitor interface {
	Snapshot() scheduler.Status
	Stop()
}

// StatusResponse is the body of an authorised /status request.
type StatusResponse struct {
	scheduler.Status
	Breakers map[string]string `json:"breakers,omitempty"`
}

type Handler struct {
	monitor  Monitor
	password string
	history  storage.History
	breakers func() map[string]string
	onStop   func()
	logger   *slog.Logger
}

type Option func(*Handler)

func WithHistory(h storage.History) Option {
	return func(a *Handler) {
		a.history = h
	}
}

// WithBreakers adds storage breaker states to the status report.
func WithBreakers(fn func() map[string]string) Option {
	return func(a *Handler) {
		a.breakers = fn
	}
}

// WithStopHook runs fn after an authorised stop request stopped the monitor.
func WithStopHook(fn func()) Option {
	return func(a *Handler) {
		a.onStop = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Handler) {
		a.logger = logger
	}
}

// New creates the handlers. An empty password disables /status and /stop.
func New(monitor Monitor, password string, opts ...Option) *Handler {
	h := &Handler{
		monitor:  monitor,
		password: password,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) authorized(c echo.Context) bool {
	if h.password == "" {
		return false
	}
	pass := c.QueryParam("pass")
	return subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Status(c echo.Context) error {
	if !h.authorized(c) {
		return c.String(http.StatusOK, "You contacted the STATUS endpoint.")
	}

	resp := StatusResponse{Status: h.monitor.Snapshot()}
	if h.breakers != nil {
		resp.Breakers = h.breakers()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Stop(c echo.Context) error {
	if !h.authorized(c) {
		return c.String(http.StatusOK, "You contacted the STOP endpoint.")
	}

	h.logger.Warn("stop requested", slog.String("remote", c.RealIP()))
	h.monitor.Stop()
	if h.onStop != nil {
		h.onStop()
	}
	return c.String(http.StatusOK, "Site monitor is stopping.")
}

func (h *Handler) History(c echo.Context) error {
	if !h.authorized(c) {
		return echo.NewHTTPError(http.StatusUnauthorized, "password required")
	}
	if h.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no sample history configured")
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}

	samples, err := h.history.Recent(c.Request().Context(), c.Param("site"), limit)
	if errors.Is(err, storage.ErrUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sample history unavailable")
	}
	if err != nil {
		h.logger.Error("failed to read sample history", slog.String("site", c.Param("site")), slog.Any("err", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read sample history")
	}
	if samples == nil {
		samples = []outcome.Sample{}
	}
	return c.JSON(http.StatusOK, samples)
}
