package integrations

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/onboardkit/pkg/logger"
)

// maxWebhookBody caps inbound webhook payloads. Providers in this
// catalog send small JSON envelopes; anything above 1MB is abuse.
const maxWebhookBody = 1 << 20

// UserIDResolver extracts the authenticated user from a request. The
// host application supplies it (session, JWT, whatever it uses); this
// module does not own authentication.
type UserIDResolver func(r *http.Request) (uuid.UUID, error)

// Handler is the HTTP transport for the integrations module.
type Handler struct {
	connector   *Connector
	verifier    *Verifier
	processor   *Processor
	adapters    map[string]ProviderAdapter
	cfg         Config
	resolveUser UserIDResolver
	log         *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// NewHandler wires the transport over the connector, verifier, and
// processor.
func NewHandler(connector *Connector, verifier *Verifier, processor *Processor, adapters map[string]ProviderAdapter, cfg Config, resolveUser UserIDResolver, opts ...HandlerOption) *Handler {
	h := &Handler{
		connector:   connector,
		verifier:    verifier,
		processor:   processor,
		adapters:    adapters,
		cfg:         cfg,
		resolveUser: resolveUser,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the routes to mount in the host application:
//
//	r.Mount("/", integrationsHandler.Router())
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/integrations", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{provider}/auth", h.beginAuth)
		r.Get("/{provider}/callback", h.callback)
		r.Delete("/{provider}", h.disconnect)
	})

	r.Post("/webhooks/{provider}", h.webhook)

	return r
}

func (h *Handler) beginAuth(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
		return
	}

	slug := chi.URLParam(r, "provider")
	authURL, err := h.connector.BeginAuthorization(r.Context(), slug, userID)
	switch {
	case errors.Is(err, ErrProviderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "unknown_provider"})
		return
	case err != nil:
		h.log.ErrorContext(r.Context(), "failed to begin authorization",
			logger.Component("integrations_http"),
			logger.Provider(slug),
			logger.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal_error"})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "provider")
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		h.redirectFailure(w, r, providerErr)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectFailure(w, r, "no_code")
		return
	}

	if _, err := h.connector.CompleteAuthorization(r.Context(), slug, code, q.Get("state")); err != nil {
		h.log.WarnContext(r.Context(), "authorization callback rejected",
			logger.Component("integrations_http"),
			logger.Provider(slug),
			logger.Error(err),
		)
		h.redirectFailure(w, r, "connection_failed")
		return
	}

	http.Redirect(w, r, h.cfg.SuccessRedirect, http.StatusFound)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
		return
	}

	list, err := h.connector.List(r.Context(), userID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to list integrations",
			logger.Component("integrations_http"),
			logger.UserID(userID.String()),
			logger.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal_error"})
		return
	}

	// Integration marshals without AuthData; tokens never leave the server.
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "integrations": list})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
		return
	}

	slug := chi.URLParam(r, "provider")
	if err := h.connector.Disconnect(r.Context(), userID, slug); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "unknown_provider"})
			return
		}
		h.log.ErrorContext(r.Context(), "failed to disconnect integration",
			logger.Component("integrations_http"),
			logger.Provider(slug),
			logger.UserID(userID.String()),
			logger.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "unreadable_body"})
		return
	}

	if err := h.verifier.Verify(slug, body, r.Header); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "unknown_provider"})
			return
		}
		h.log.WarnContext(r.Context(), "webhook rejected",
			logger.Component("integrations_http"),
			logger.Provider(slug),
			logger.Error(err),
		)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "signature_rejected"})
		return
	}

	adapter, ok := h.adapters[slug]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "unknown_provider"})
		return
	}

	eventType, eventID, err := adapter.ParseWebhook(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid_payload"})
		return
	}

	result, err := h.processor.Ingest(r.Context(), slug, eventType, eventID, body)
	if err != nil {
		// 5xx solicits the provider's own retry; the event row (if any)
		// stays unprocessed until a later delivery succeeds.
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "processing_failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (h *Handler) redirectFailure(w http.ResponseWriter, r *http.Request, code string) {
	target := h.cfg.FailureRedirect
	if u, err := url.Parse(target); err == nil {
		q := u.Query()
		q.Set("error", code)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
