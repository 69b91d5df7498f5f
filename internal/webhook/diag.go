package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"

	"github.com/avku/reports-bot/internal/telegram"
)

// BotInfoAPI fetches the bot's own account.
type BotInfoAPI interface {
	GetMe(ctx context.Context) (*telegram.BotInfo, error)
}

// DiagHandler reports whether the Bot API is reachable with the configured
// token. Failures are reported in the body with status 200; a missing
// client (no token) is a 500.
type DiagHandler struct {
	bot BotInfoAPI
}

func NewDiagHandler(bot BotInfoAPI) *DiagHandler {
	return &DiagHandler{bot: bot}
}

type diagResponse struct {
	OK      bool              `json:"ok"`
	Region  string            `json:"region,omitempty"`
	Runtime string            `json:"runtime"`
	TgOK    bool              `json:"tg_ok"`
	Result  *telegram.BotInfo `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (h *DiagHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := diagResponse{Region: os.Getenv("AWS_REGION"), Runtime: runtime.Version()}
	status := http.StatusOK

	if h.bot == nil {
		resp.Error = "Missing TG_REPORTS_BOT_TOKEN"
		status = http.StatusInternalServerError
	} else if info, err := h.bot.GetMe(r.Context()); err != nil {
		resp.Error = err.Error()
	} else {
		resp.OK, resp.TgOK, resp.Result = true, true, info
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
