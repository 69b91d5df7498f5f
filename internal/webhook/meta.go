package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/httpretry"
)

// MetaHandler handles Meta (Facebook Page) webhook verification and event
// notifications.
//
// Verification (GET):
//
//	Meta sends hub.mode, hub.verify_token and hub.challenge as query
//	parameters; a matching token is answered with the challenge.
//
// Event notification (POST):
//
//	The JSON payload is signed in X-Hub-Signature-256 (HMAC-SHA256 with the
//	app secret). Messenger messages in entry[].messaging[] are relayed one
//	by one to an internal processing endpoint as MetaJob bodies with the
//	x-internal-secret header.
type MetaHandler struct {
	verifyToken string
	appSecret   string

	endpoint string
	secret   string
	http     *httpretry.Client
}

// RelayPolicy bounds one job relay.
var RelayPolicy = httpretry.Policy{Retries: 2, Timeout: 10 * time.Second}

// NewMetaHandler creates the handler. Relaying is disabled when endpoint or
// internalSecret is empty; events are then only logged.
func NewMetaHandler(verifyToken, appSecret, endpoint, internalSecret string, httpClient *httpretry.Client) *MetaHandler {
	if httpClient == nil {
		httpClient = httpretry.New(nil)
	}
	return &MetaHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		endpoint:    endpoint,
		secret:      internalSecret,
		http:        httpClient,
	}
}

func (h *MetaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *MetaHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" ||
		!hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		log.Warn().Str("mode", mode).Msg("Meta webhook verification failed")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	log.Info().Msg("Meta webhook verification successful")
	writeText(w, http.StatusOK, challenge)
}

func (h *MetaHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	defer r.Body.Close()
	if err != nil {
		log.Error().Err(err).Msg("Meta webhook: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !VerifySignature(body, r.Header.Get("X-Hub-Signature-256"), h.appSecret) {
		log.Warn().Msg("Meta webhook: invalid signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var payload metaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("Meta webhook: bad JSON")
		http.Error(w, "Bad JSON", http.StatusBadRequest)
		return
	}

	jobs := extractJobs(payload)
	log.Info().Str("object", payload.Object).Int("jobs", len(jobs)).Int("bodySize", len(body)).
		Msg("Meta webhook event received")
	h.relay(r.Context(), jobs)

	writeText(w, http.StatusOK, "OK")
}

// relay posts each job to the processing endpoint. Failures are logged.
func (h *MetaHandler) relay(ctx context.Context, jobs []MetaJob) {
	if h.endpoint == "" || h.secret == "" || len(jobs) == 0 {
		return
	}
	for _, job := range jobs {
		body, err := json.Marshal(job)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal Meta job")
			continue
		}
		resp, err := h.http.Do(ctx, &httpretry.Request{
			Op:     "meta.relay",
			Method: http.MethodPost,
			URL:    h.endpoint,
			Header: http.Header{
				"Content-Type":      {"application/json"},
				"X-Internal-Secret": {h.secret},
			},
			Body: body,
		}, RelayPolicy)
		switch {
		case err != nil:
			log.Error().Err(err).Str("senderId", job.SenderID).Msg("Meta job relay failed")
		case !resp.OK():
			log.Error().Int("status", resp.StatusCode).Str("senderId", job.SenderID).Msg("Meta job relay rejected")
		}
	}
}

// VerifySignature checks an X-Hub-Signature-256 value ("sha256=<hex>")
// against the HMAC-SHA256 of body. An empty secret never verifies.
func VerifySignature(body []byte, header, secret string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || secret == "" {
		return false
	}
	received, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}

type metaPayload struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID        string          `json:"id"`
	Messaging []metaMessaging `json:"messaging"`
}

type metaMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		IsEcho      bool   `json:"is_echo"`
		Text        string `json:"text"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

// MetaAttachment is one attachment URL of a relayed message.
type MetaAttachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// MetaJob is one Messenger message relayed for processing.
type MetaJob struct {
	PageID      string           `json:"pageId"`
	SenderID    string           `json:"senderId"`
	Timestamp   int64            `json:"timestamp"`
	Text        string           `json:"text"`
	Attachments []MetaAttachment `json:"attachments"`
}

// extractJobs returns the non-echo messages that carry text or at least one
// attachment URL.
func extractJobs(p metaPayload) []MetaJob {
	var jobs []MetaJob
	for _, entry := range p.Entry {
		for _, evt := range entry.Messaging {
			msg := evt.Message
			if msg == nil || msg.IsEcho {
				continue
			}
			text := strings.TrimSpace(msg.Text)
			attachments := []MetaAttachment{}
			for _, a := range msg.Attachments {
				if a.Payload.URL != "" {
					attachments = append(attachments, MetaAttachment{Type: a.Type, URL: a.Payload.URL})
				}
			}
			if text == "" && len(attachments) == 0 {
				continue
			}
			jobs = append(jobs, MetaJob{
				PageID:      entry.ID,
				SenderID:    evt.Sender.ID,
				Timestamp:   evt.Timestamp,
				Text:        text,
				Attachments: attachments,
			})
		}
	}
	return jobs
}
