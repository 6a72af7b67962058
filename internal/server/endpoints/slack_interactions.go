package endpoints

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/meishi-bot/meishi/internal/api"
	"github.com/meishi-bot/meishi/internal/pipeline"
	"github.com/meishi-bot/meishi/internal/report"
	"github.com/meishi-bot/meishi/internal/svcctx"
)

// SlackInteractionsEndpoint handles POST /slack/interactions: button
// presses on the messages the reporter posted.
type SlackInteractionsEndpoint struct {
	// Client deletes thread messages for the cleanup action.
	Client *slack.Client
	// SigningSecret verifies request signatures. Verification is
	// skipped when empty (tests).
	SigningSecret string
}

var _ api.Endpoint = (*SlackInteractionsEndpoint)(nil)

func (e *SlackInteractionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/slack/interactions", e.handler
}

func (e *SlackInteractionsEndpoint) RequiresServices() bool { return true }

func (e *SlackInteractionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if e.SigningSecret != "" {
		verifier, err := slack.NewSecretsVerifier(r.Header, e.SigningSecret)
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing signature headers")
			return
		}
		if _, err := verifier.Write(body); err != nil {
			writeError(w, http.StatusInternalServerError, "signature check failed")
			return
		}
		if err := verifier.Ensure(); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	// Interactions arrive form-encoded with the JSON in "payload".
	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(form.Get("payload")), &callback); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interaction payload")
		return
	}
	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Ack and run the action in the background; Slack expects the
	// response within three seconds.
	services := svcctx.ServicesFrom(r.Context())
	action := callback.ActionCallback.BlockActions[0]
	w.WriteHeader(http.StatusOK)

	go func() {
		ctx := svcctx.WithServices(context.Background(), services)
		e.dispatch(ctx, action.ActionID, action.Value)
	}()
}

func (e *SlackInteractionsEndpoint) dispatch(ctx context.Context, actionID, value string) {
	logger := svcctx.LoggerFrom(ctx)
	if logger == nil {
		logger = slog.Default()
	}

	switch actionID {
	case report.ActionCreateRecord:
		e.createRecord(ctx, value, logger)
	case report.ActionDeleteMessages:
		e.deleteMessages(ctx, value, logger)
	case report.ActionOpenFileMaker:
		// URL button, nothing to do server-side.
	default:
		logger.Warn("unknown interaction", "action_id", actionID)
	}
}

// createRecord performs the deferred write carried by the button's
// action token and reports the result into the originating thread.
func (e *SlackInteractionsEndpoint) createRecord(ctx context.Context, value string, logger *slog.Logger) {
	reporter := svcctx.ReporterFrom(ctx)
	proc := svcctx.PipelineFrom(ctx)
	if reporter == nil || proc == nil {
		return
	}

	tok, err := pipeline.ParseActionToken(value)
	if err != nil {
		logger.Error("malformed action token", "error", err)
		return
	}

	dest := report.Destination{ChannelID: tok.ChannelID, ThreadTS: tok.ThreadTS}
	if err := tok.Validate(); err != nil {
		_ = reporter.PostError(ctx, dest, "エラーが発生しました: channelId or threadTs is not found")
		return
	}

	if _, err := proc.Confirm(ctx, tok); err != nil {
		logger.Error("deferred record create failed", "name", tok.Data.Name, "error", err)
		_ = reporter.PostError(ctx, dest, "エラーが発生しました: "+err.Error())
		return
	}

	if err := reporter.PostCreated(ctx, dest, tok.Data); err != nil {
		logger.Error("failed to post creation notice", "error", err)
	}
}

// deleteMessages removes the bot's own messages from the thread the
// summary button points at. Human messages and the images stay.
func (e *SlackInteractionsEndpoint) deleteMessages(ctx context.Context, value string, logger *slog.Logger) {
	var routing struct {
		ChannelID string `json:"channelId"`
		ThreadTS  string `json:"threadTs"`
	}
	if err := json.Unmarshal([]byte(value), &routing); err != nil {
		logger.Error("malformed routing value", "error", err)
		return
	}
	if routing.ChannelID == "" || routing.ThreadTS == "" {
		logger.Error("routing value missing channel or thread")
		return
	}

	params := &slack.GetConversationRepliesParameters{
		ChannelID: routing.ChannelID,
		Timestamp: routing.ThreadTS,
	}
	messages, _, _, err := e.Client.GetConversationRepliesContext(ctx, params)
	if err != nil {
		logger.Error("failed to list thread replies", "error", err)
		return
	}

	for _, msg := range messages {
		if msg.BotID == "" || msg.Timestamp == "" {
			continue
		}
		if _, _, err := e.Client.DeleteMessageContext(ctx, routing.ChannelID, msg.Timestamp); err != nil {
			logger.Error("failed to delete message", "ts", msg.Timestamp, "error", err)
		}
	}
}

func (e *SlackInteractionsEndpoint) Command(_ func() string) *cobra.Command {
	// Slack calls this endpoint, not operators.
	return nil
}
