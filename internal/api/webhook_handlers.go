package api

import (
	"io"
	"log/slog"
	"net/http"
)

// maxWebhookBody bounds provider webhook bodies. Deliveries are small
// JSON documents; anything bigger is not a webhook.
const maxWebhookBody = 1 << 20

// handleWebhook is the provider webhook entry point. The delivery token
// is verified against the raw body before any state mutation. Error
// bodies carry no internals; failures are observable through the event
// stream.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		writeDetail(w, http.StatusUnauthorized, "Missing Authorization header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	if err := s.deps.Verifier.Verify(body, auth); err != nil {
		slog.Warn("webhook delivery rejected", "error", err, "remote_addr", r.RemoteAddr)
		writeDetail(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	if err := s.deps.Ingester.Ingest(body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
