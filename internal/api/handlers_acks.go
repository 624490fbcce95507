package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dripsend/dripsend/internal/channel"
)

// AckHandler receives delivery acknowledgments from the messaging gateway and
// hands them to the channel's subscribers. The gateway signs callbacks with
// the shared webhook secret; an empty secret disables verification.
type AckHandler struct {
	gateway *channel.HTTPChannel
	secret  string
	log     zerolog.Logger
}

func NewAckHandler(gateway *channel.HTTPChannel, secret string, log zerolog.Logger) *AckHandler {
	return &AckHandler{gateway: gateway, secret: secret, log: log}
}

func (h *AckHandler) Receive(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if h.secret != "" {
		timestamp, err := strconv.ParseInt(r.Header.Get("X-Dripsend-Timestamp"), 10, 64)
		if err != nil || !channel.Verify(h.secret, payload, timestamp, r.Header.Get("X-Dripsend-Signature")) {
			h.log.Warn().Str("remote", r.RemoteAddr).Msg("rejected ack webhook with bad signature")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var ack channel.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ack.ExternalID == "" || ack.Level == "" {
		writeError(w, http.StatusBadRequest, "message_id and status are required")
		return
	}

	h.gateway.HandleAck(ack)
	w.WriteHeader(http.StatusNoContent)
}
