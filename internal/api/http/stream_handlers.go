package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/farmbridge/farmbridge/internal/application/notify"
)

// streamEvents serves the SSE dashboard stream. Each connection becomes one
// router subscription; the notifier applies the notification policy before
// anything reaches the wire. Optional query params: `consultation_id`
// narrows to one record, `filter` is an expression over the event fields.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r.Context())
	if u == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing identity")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.New().String()
	}
	client := notify.NewStreamClient(clientID, u.UserID, u.Role)
	observer := notify.Observer{
		ObserverID: uuid.New(),
		UserID:     u.UserID,
		Role:       u.Role,
	}

	in := notify.AttachInput{
		Client:     client,
		Observer:   observer,
		FilterExpr: r.URL.Query().Get("filter"),
	}
	if v := r.URL.Query().Get("consultation_id"); v != "" {
		in.ConsultationID = &v
	}

	handle, err := s.notifier.Attach(in)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	defer s.notifier.Detach(handle, client, observer)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Initial comment flushes headers and keeps proxies from buffering.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg := <-client.MessageChan:
			if msg == nil {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn().Err(err).Msg("failed to marshal stream message")
				continue
			}
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
