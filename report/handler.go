package report

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexledger/lexledger/internal/platform/httpx"
)

const pingTimeout = 3 * time.Second

// Pinger reports whether the PDF renderer is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler answers renderer health checks under /report.
type Handler struct {
	renderer Pinger
	logger   *slog.Logger
}

// NewHandler wraps renderer, usually a *Client.
func NewHandler(renderer Pinger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{renderer: renderer, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
}

type pingResponse struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	start := time.Now()
	err := h.renderer.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		h.logger.WarnContext(r.Context(), "pdf renderer unreachable",
			slog.Duration("latency", latency), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "PDF Renderer Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, pingResponse{Status: "ok", LatencyMS: latency.Milliseconds()})
}
