package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"
	"golang.org/x/text/language"

	"github.com/eugenenazirov/donation-overlay/internal/donation"
	"github.com/eugenenazirov/donation-overlay/internal/feed"
	"github.com/eugenenazirov/donation-overlay/internal/overlay"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Overlay is the runtime surface the handlers drive.
type Overlay interface {
	Load(ctx context.Context, params url.Values) (overlay.Snapshot, error)
	Current() (overlay.Snapshot, error)
	TestDonation(ctx context.Context) (donation.Donation, error)
	Subscribe() (<-chan overlay.Snapshot, func())
}

// Handler wires the overlay runtime into HTTP handlers.
type Handler struct {
	overlay Overlay
	logger  *zap.Logger
	locale  language.Tag

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithLocale sets the locale used to format amounts.
func WithLocale(tag language.Tag) HandlerOption {
	return func(h *Handler) {
		h.locale = tag
	}
}

// WithHandlerLogger sets the logger used by streaming handlers.
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(ov Overlay, opts ...HandlerOption) *Handler {
	h := &Handler{
		overlay: ov,
		logger:  zap.NewNop(),
		locale:  language.AmericanEnglish,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	snap, err := h.overlay.Load(r.Context(), r.URL.Query())
	if err != nil {
		writeOverlayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderView(snap, h.locale))
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	_ = r
	snap, err := h.overlay.Current()
	if err != nil {
		writeOverlayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderView(snap, h.locale))
}

func (h *Handler) handleTestDonation(w http.ResponseWriter, r *http.Request) {
	d, err := h.overlay.TestDonation(r.Context())
	if err != nil {
		writeOverlayError(w, err)
		return
	}

	snap, err := h.overlay.Current()
	if err != nil {
		writeOverlayError(w, err)
		return
	}

	printer := newAmountPrinter(h.locale, snap.Config.Currency)
	resp := testDonationResponse{
		Donation: renderDonation(d, printer),
		State:    renderView(snap, h.locale),
		Message:  "Test donation applied",
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(h.streamState).ServeHTTP(w, r)
}

// streamState pushes one view per published snapshot until either side goes away.
func (h *Handler) streamState(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	updates, cancel := h.overlay.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, conn)
	}()

	requestID := requestIDFromContext(conn.Request().Context())
	h.logger.Debug("state stream opened", zap.String("request_id", requestID))
	defer h.logger.Debug("state stream closed", zap.String("request_id", requestID))

	for {
		select {
		case <-gone:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, renderView(snap, h.locale)); err != nil {
				h.logger.Debug("state stream write failed", zap.Error(err), zap.String("request_id", requestID))
				return
			}
		}
	}
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type testDonationResponse struct {
	Donation donationView `json:"donation"`
	State    overlayView  `json:"state"`
	Message  string       `json:"message"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}

func writeOverlayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feed.ErrTestModeDisabled):
		writeError(w, http.StatusConflict, "Test mode disabled", err.Error(),
			"Set STREAMELEMENTS_ENABLED=true and STREAMELEMENTS_TEST_MODE=true to enable test donations")
	case errors.Is(err, overlay.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "Overlay not loaded", err.Error(), "POST /api/load first")
	case errors.Is(err, overlay.ErrClosed), errors.Is(err, feed.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "Overlay unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "Request cancelled", err.Error())
	default:
		writeInternalError(w, err)
	}
}
