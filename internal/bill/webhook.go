package bill

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/wexel/wexel/internal/whatsapp"
)

// handleVerifyWebhook answers the WhatsApp webhook subscription handshake.
func (s *Server) handleVerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == s.verifyToken {
		slog.Info("Webhook verified")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	http.Error(w, "Forbidden", http.StatusForbidden)
}

// handleWebhook ingests inbound WhatsApp image messages. Every image from a
// registered, active contact goes through the same processing pipeline as a
// direct upload. The webhook always gets a 200 once the payload decodes;
// per-image failures are logged, never bounced back to the platform.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload whatsapp.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid webhook payload"})
		return
	}

	if payload.Object != "whatsapp_business_account" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	for _, img := range payload.Images() {
		if err := s.ingestImage(r, img); err != nil {
			slog.Error("Error processing incoming image", "from", img.From, "media_id", img.MediaID, "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) ingestImage(r *http.Request, img whatsapp.IncomingImage) error {
	if s.media == nil {
		return fmt.Errorf("no media client configured")
	}

	contact, err := s.service.ActiveContactByPhone(s.owner, img.From)
	if err != nil {
		slog.Info("No active contact for sender, skipping", "from", img.From)
		return nil
	}

	data, mimeType, err := s.media.FetchMedia(r.Context(), img.MediaID)
	if err != nil {
		return fmt.Errorf("fetching media %s: %w", img.MediaID, err)
	}
	if mimeType == "" {
		mimeType = img.MimeType
	}

	record, err := s.service.ProcessBill(ProcessInput{
		OwnerID:     contact.OwnerID,
		ContactID:   contact.ID,
		Filename:    img.MediaID + ".jpg",
		Data:        data,
		ContentType: mimeType,
	})
	if err != nil {
		return fmt.Errorf("processing media %s: %w", img.MediaID, err)
	}

	slog.Info("Processed bill from WhatsApp", "from", img.From, "bill_id", record.ID, "total", record.CanonicalTotal)
	return nil
}
