package tracking

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/pkg/httputil"
	"github.com/leadflow/outreach/internal/pkg/logger"
)

// EventRecorder ingests tracking hits into the event log. Recording is
// best-effort on the recorder's side; the handlers never block a pixel
// or redirect on it.
type EventRecorder interface {
	Record(ctx context.Context, ev *model.EmailEvent)
}

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public tracking endpoints. The open endpoint always
// returns the pixel, even on a bad token, because it renders inside
// recipients' mail clients.
type Handler struct {
	events EventRecorder
	log    *logger.Logger
}

func NewHandler(events EventRecorder) *Handler {
	return &Handler{events: events, log: logger.With("tracking")}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Get("/api/track/open/{token}", h.HandleOpen)
	r.Get("/api/track/click/{token}", h.HandleClick)
	r.Get("/api/track/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	t, err := DecodeToken(chi.URLParam(r, "token"))
	if err != nil {
		h.log.Debug("dropped open hit", "error", err)
		h.servePixel(w)
		return
	}

	h.events.Record(r.Context(), &model.EmailEvent{
		CampaignID: t.CampaignID,
		LeadID:     t.LeadID,
		StepNumber: t.Step,
		Type:       model.EventOpen,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		CreatedAt:  time.Now().UTC(),
	})
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if !safeRedirect(target) {
		httputil.BadRequest(w, "bad link")
		return
	}

	t, err := DecodeToken(chi.URLParam(r, "token"))
	if err != nil {
		// Still forward the visitor; just drop the hit.
		h.log.Debug("dropped click hit", "error", err)
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	h.events.Record(r.Context(), &model.EmailEvent{
		CampaignID: t.CampaignID,
		LeadID:     t.LeadID,
		StepNumber: t.Step,
		Type:       model.EventClick,
		URL:        target,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		CreatedAt:  time.Now().UTC(),
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	t, err := DecodeToken(chi.URLParam(r, "token"))
	if err != nil {
		httputil.BadRequest(w, "bad link")
		return
	}

	h.events.Record(r.Context(), &model.EmailEvent{
		CampaignID: t.CampaignID,
		LeadID:     t.LeadID,
		StepNumber: t.Step,
		Type:       model.EventUnsubscribe,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		CreatedAt:  time.Now().UTC(),
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// safeRedirect only allows absolute http(s) targets so the click
// endpoint cannot be used as an open redirector to other schemes.
func safeRedirect(target string) bool {
	if target == "" {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
