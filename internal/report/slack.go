package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/pipeline"
)

// SlackConfig holds settings for the Slack reporter.
type SlackConfig struct {
	// Client posts the messages. Required.
	Client *slack.Client
	// ChunkSize is how many cards go into one message (default 5).
	ChunkSize int
	// OpenFileURL, when set, adds an "open the database" button to
	// the summary message.
	OpenFileURL string
	// Logger for delivery failures.
	Logger *slog.Logger
}

// SlackReporter implements Reporter over the Slack Web API, posting
// every message into the originating thread.
type SlackReporter struct {
	client      *slack.Client
	chunkSize   int
	openFileURL string
	logger      *slog.Logger
}

var _ Reporter = (*SlackReporter)(nil)

// NewSlackReporter creates a Slack-backed reporter.
func NewSlackReporter(cfg SlackConfig) *SlackReporter {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SlackReporter{
		client:      cfg.Client,
		chunkSize:   cfg.ChunkSize,
		openFileURL: cfg.OpenFileURL,
		logger:      cfg.Logger,
	}
}

func (r *SlackReporter) PostText(ctx context.Context, dest Destination, text string) error {
	return r.post(ctx, dest, text, nil)
}

func (r *SlackReporter) PostProgress(ctx context.Context, dest Destination, n int) error {
	text := fmt.Sprintf(":flashlight: 解析中...（:bookmark: %d枚）", n)
	return r.post(ctx, dest, text, nil)
}

func (r *SlackReporter) PostSuccesses(ctx context.Context, dest Destination, successes []pipeline.Outcome) error {
	if len(successes) == 0 {
		return nil
	}

	for _, chunk := range Chunk(successes, r.chunkSize) {
		var blocks []slack.Block
		for _, o := range chunk {
			blocks = append(blocks, cardBlocks(o, dest)...)
		}
		if err := r.post(ctx, dest, "✅ 解析結果", blocks); err != nil {
			return err
		}
	}
	return nil
}

func (r *SlackReporter) PostFailures(ctx context.Context, dest Destination, failures []pipeline.Outcome) error {
	if len(failures) == 0 {
		return nil
	}
	return r.post(ctx, dest, "画像の解析に失敗しました", failureBlocks(failures))
}

func (r *SlackReporter) PostSummary(ctx context.Context, dest Destination, sum pipeline.Summary) error {
	return r.post(ctx, dest, "処理完了レポート", summaryBlocks(sum, dest, r.openFileURL))
}

func (r *SlackReporter) PostCreated(ctx context.Context, dest Destination, rec card.Record) error {
	return r.post(ctx, dest, "レコードを作成しました: "+rec.DisplayName(), createdBlocks(rec))
}

func (r *SlackReporter) PostError(ctx context.Context, dest Destination, message string) error {
	return r.post(ctx, dest, "システムエラーが発生しました: "+message, errorBlocks(message))
}

func (r *SlackReporter) post(ctx context.Context, dest Destination, fallback string, blocks []slack.Block) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(fallback, false),
	}
	if dest.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(dest.ThreadTS))
	}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}

	_, _, err := r.client.PostMessageContext(ctx, dest.ChannelID, opts...)
	if err != nil {
		r.logger.Error("failed to post message", "channel", dest.ChannelID, "error", err)
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}
