// Package report renders batch results back to the submitter. The
// transport caps how many structural blocks one message may carry, so
// rendered cards are posted in fixed-size chunks.
package report

import (
	"context"

	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/pipeline"
)

// DefaultChunkSize is how many rendered cards go into one outbound
// message. Five cards stay comfortably under the transport's 50-block
// per-message ceiling.
const DefaultChunkSize = 5

// Destination identifies the conversation thread replies go to.
type Destination struct {
	ChannelID string
	ThreadTS  string
}

// Reporter posts human-readable results for one batch.
type Reporter interface {
	// PostText posts a plain message with no blocks.
	PostText(ctx context.Context, dest Destination, text string) error

	// PostProgress announces that processing started for n images.
	PostProgress(ctx context.Context, dest Destination, n int) error

	// PostSuccesses renders extracted cards, chunked per message.
	PostSuccesses(ctx context.Context, dest Destination, successes []pipeline.Outcome) error

	// PostFailures lists failed items with their reasons.
	PostFailures(ctx context.Context, dest Destination, failures []pipeline.Outcome) error

	// PostSummary posts the aggregate report with follow-up actions.
	PostSummary(ctx context.Context, dest Destination, sum pipeline.Summary) error

	// PostCreated confirms a deferred record creation.
	PostCreated(ctx context.Context, dest Destination, rec card.Record) error

	// PostError reports a batch-level or action-level failure.
	PostError(ctx context.Context, dest Destination, message string) error
}

// Chunk splits items into groups of at most size, preserving order.
// A non-positive size yields a single chunk.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}

	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
