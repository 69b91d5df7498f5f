// Package webhook holds the HTTP entry points of the bot: the Telegram
// webhook, the Meta (Facebook) webhook relay, a Bot API diagnostic and the
// request metrics middleware.
//
// The Telegram handler answers 200 for every authentic, well-formed update
// and hands the update to a Dispatcher, which decides where the work runs:
// an asynchronous Lambda invocation, a tracked goroutine, or inline.
package webhook

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/telegram"
)

// maxBodySize is the largest accepted request body (1 MiB).
const maxBodySize = 1 << 20

// SecretHeader carries the secret_token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramHandler receives Bot API webhook deliveries.
type TelegramHandler struct {
	secret     string
	dispatcher Dispatcher
}

// NewTelegramHandler creates a handler. An empty secret disables the header
// check.
func NewTelegramHandler(secret string, d Dispatcher) *TelegramHandler {
	return &TelegramHandler{secret: secret, dispatcher: d}
}

func (h *TelegramHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusOK, "OK")
		return
	}

	if h.secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			log.Warn().Str("remote", r.RemoteAddr).Msg("Telegram webhook: bad secret token")
			writeText(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	defer r.Body.Close()
	if err != nil {
		log.Warn().Err(err).Msg("Telegram webhook: failed to read body")
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}
	if len(body) > maxBodySize {
		log.Warn().Int("limit", maxBodySize).Msg("Telegram webhook: body too large")
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	u, err := telegram.ParseUpdate(body)
	if err != nil {
		log.Warn().Err(err).Int("bodySize", len(body)).Msg("Telegram webhook: malformed update")
		writeText(w, http.StatusBadRequest, "Bad Request")
		return
	}

	logger := log.With().Str("invocation_id", uuid.NewString()).Int64("update_id", u.UpdateID).Logger()
	ctx := logger.WithContext(r.Context())
	logger.Debug().Str("kind", string(u.Kind())).Msg("Telegram update received")

	if err := h.dispatcher.Dispatch(ctx, body, u); err != nil {
		logger.Error().Err(err).Msg("Failed to dispatch update")
	}
	writeText(w, http.StatusOK, "OK")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
