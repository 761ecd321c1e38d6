package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

const maxWebhookBody = 5 << 20

type issuesEvent struct {
	Action string `json:"action"`
	Issue  struct {
		ID          int64     `json:"id"`
		Number      int       `json:"number"`
		Title       string    `json:"title"`
		Body        string    `json:"body"`
		PullRequest *struct{} `json:"pull_request"`
	} `json:"issue"`
}

var handledActions = map[string]bool{
	"opened":   true,
	"edited":   true,
	"reopened": true,
}

// handleWebhook accepts GitHub deliveries. Anything that is not a handled
// issues action is acknowledged and ignored.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if s.opts.WebhookSecret != "" && !validSignature(s.opts.WebhookSecret, r.Header.Get("X-Hub-Signature-256"), body) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if r.Header.Get("X-GitHub-Event") != "issues" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var ev issuesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if handledActions[ev.Action] && ev.Issue.Number > 0 {
		item := workitem.WorkItem{
			ID:            ev.Issue.ID,
			Number:        ev.Issue.Number,
			Title:         ev.Issue.Title,
			Body:          ev.Issue.Body,
			IsPullRequest: ev.Issue.PullRequest != nil,
		}
		s.state.Log(eventbus.LevelInfo, item.Number, fmt.Sprintf("webhook received: issue #%d %s", item.Number, ev.Action))
		s.dispatch(item)
	}

	w.WriteHeader(http.StatusOK)
}

// validSignature checks a "sha256=<hex>" HMAC of body.
func validSignature(secret, header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
