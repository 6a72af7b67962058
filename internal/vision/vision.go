// Package vision wraps the external model call that converts a card
// image into a structured record.
package vision

import (
	"context"

	"github.com/meishi-bot/meishi/internal/card"
)

// Extractor converts a single card image into a candidate record.
// Implementations perform no concurrency control of their own.
type Extractor interface {
	// Extract parses one image. A transport error or a malformed
	// model response is returned as an error; a syntactically valid
	// record whose IsValidImage flag is false is returned as-is for
	// the caller to judge.
	Extract(ctx context.Context, img card.Image) (*card.Record, error)

	// Name returns the extractor identifier (e.g. "openai").
	Name() string
}
