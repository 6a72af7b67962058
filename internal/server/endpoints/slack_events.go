package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"

	"github.com/meishi-bot/meishi/internal/api"
	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/pipeline"
	"github.com/meishi-bot/meishi/internal/report"
	"github.com/meishi-bot/meishi/internal/svcctx"
)

// eventEnvelope is the Events API callback wrapper. Only the fields
// the file_share flow reads are declared; the typed structs in the
// events package do not carry message files reliably.
type eventEnvelope struct {
	Type      string       `json:"type"`
	Challenge string       `json:"challenge"`
	Event     messageEvent `json:"event"`
}

type messageEvent struct {
	Type     string      `json:"type"`
	Subtype  string      `json:"subtype"`
	Channel  string      `json:"channel"`
	TS       string      `json:"ts"`
	ThreadTS string      `json:"thread_ts"`
	BotID    string      `json:"bot_id"`
	Files    []slackFile `json:"files"`
}

type slackFile struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	URLPrivateDownload string `json:"url_private_download"`
}

// SlackEventsEndpoint handles POST /slack/events: the Events API
// callback a workspace sends when card photos land in the channel.
type SlackEventsEndpoint struct {
	// Client downloads shared files and is handed to async batches.
	Client *slack.Client
	// SigningSecret verifies request signatures. Verification is
	// skipped when empty (tests).
	SigningSecret string
	// MaxImages caps the batch size (default pipeline.DefaultMaxImages).
	MaxImages int
}

var _ api.Endpoint = (*SlackEventsEndpoint)(nil)

func (e *SlackEventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/slack/events", e.handler
}

func (e *SlackEventsEndpoint) RequiresServices() bool { return true }

func (e *SlackEventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid event payload: %v", err))
		return
	}

	switch env.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(env.Challenge))
		return
	case "event_callback":
		// fall through
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := env.Event
	// Only human file_share messages trigger a batch. The bot's own
	// result messages also arrive here and must not loop.
	if ev.Type != "message" || ev.Subtype != "file_share" || ev.BotID != "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Ack immediately; Slack retries on slow responses. The batch
	// continues in the background with the services re-attached.
	services := svcctx.ServicesFrom(r.Context())
	w.WriteHeader(http.StatusOK)

	go func() {
		ctx := svcctx.WithServices(context.Background(), services)
		e.processFileShare(ctx, ev)
	}()
}

// processFileShare runs the batch for one file_share message and
// posts every result into the message's thread.
func (e *SlackEventsEndpoint) processFileShare(ctx context.Context, ev messageEvent) {
	logger := svcctx.LoggerFrom(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	reporter := svcctx.ReporterFrom(ctx)
	proc := svcctx.PipelineFrom(ctx)
	if reporter == nil || proc == nil {
		return
	}

	// Replies thread off the file_share message itself.
	dest := report.Destination{ChannelID: ev.Channel, ThreadTS: ev.TS}

	var imageFiles []slackFile
	for _, f := range ev.Files {
		if strings.HasPrefix(f.Mimetype, "image/") {
			imageFiles = append(imageFiles, f)
		}
	}

	if len(imageFiles) == 0 {
		_ = reporter.PostText(ctx, dest, "画像を添付してください")
		return
	}

	maxImages := e.MaxImages
	if maxImages <= 0 {
		maxImages = pipeline.DefaultMaxImages
	}
	if len(imageFiles) > maxImages {
		_ = reporter.PostError(ctx, dest, fmt.Sprintf("画像は最大%d枚までです", maxImages))
		return
	}

	if err := reporter.PostProgress(ctx, dest, len(imageFiles)); err != nil {
		logger.Warn("failed to post progress", "error", err)
	}

	// A download failure stays with its own file; the siblings still
	// go through the batch.
	var downloadFailures []pipeline.Outcome
	images := make([]card.Image, 0, len(imageFiles))
	for _, f := range imageFiles {
		var buf bytes.Buffer
		if err := e.Client.GetFile(f.URLPrivateDownload, &buf); err != nil {
			logger.Error("failed to download file", "file", f.Name, "error", err)
			downloadFailures = append(downloadFailures, pipeline.Outcome{
				FileName: f.Name,
				Err:      "ファイルのダウンロードに失敗しました",
			})
			continue
		}
		images = append(images, card.Image{
			FileName:    f.Name,
			ContentType: f.Mimetype,
			Data:        buf.Bytes(),
		})
	}

	outcomes := downloadFailures
	if len(images) > 0 {
		processed, err := proc.Process(ctx, images, pipeline.Limits{MaxImages: maxImages})
		if err != nil {
			_ = reporter.PostError(ctx, dest, err.Error())
			return
		}
		outcomes = append(processed, downloadFailures...)
	}

	c := pipeline.Classify(outcomes)
	if len(c.Successes) > 0 {
		if err := reporter.PostSuccesses(ctx, dest, c.Successes); err != nil {
			logger.Error("failed to post successes", "error", err)
		}
	}
	if len(c.Failures) > 0 {
		if err := reporter.PostFailures(ctx, dest, c.Failures); err != nil {
			logger.Error("failed to post failures", "error", err)
		}
	}
	sum := pipeline.BuildSummary(c, dest.ChannelID, dest.ThreadTS)
	if err := reporter.PostSummary(ctx, dest, sum); err != nil {
		logger.Error("failed to post summary", "error", err)
	}
}

func (e *SlackEventsEndpoint) Command(_ func() string) *cobra.Command {
	// Slack calls this endpoint, not operators.
	return nil
}
