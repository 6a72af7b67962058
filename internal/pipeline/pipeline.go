package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/store"
	"github.com/meishi-bot/meishi/internal/vision"
)

// DefaultMaxImages caps how many images one batch may carry. The
// value tracks the hosting platform's simultaneous-connection limit;
// it is policy, not something computed.
const DefaultMaxImages = 5

// Intake rejection errors. These surface before any extraction call.
var (
	ErrNoImages      = errors.New("attach at least one image")
	ErrTooManyImages = errors.New("too many images attached")
)

// Limits carries the batch intake policy.
type Limits struct {
	MaxImages int
}

// Processor runs the batch pipeline: concurrent extraction, the
// duplicate gate, and the conditional store write per item.
type Processor struct {
	extractor vision.Extractor
	store     store.Store
	logger    *slog.Logger
}

// New creates a Processor.
func New(extractor vision.Extractor, st store.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{extractor: extractor, store: st, logger: logger}
}

// Process runs the whole batch and returns one outcome per image,
// paired by file name. The error return is reserved for intake
// rejection; per-item failures are carried inside the outcomes.
func (p *Processor) Process(ctx context.Context, images []card.Image, limits Limits) ([]Outcome, error) {
	maxImages := limits.MaxImages
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}

	if len(images) == 0 {
		return nil, ErrNoImages
	}
	if len(images) > maxImages {
		return nil, fmt.Errorf("%w: got %d, limit %d", ErrTooManyImages, len(images), maxImages)
	}

	batchID := uuid.New().String()
	p.logger.Info("processing batch", "batch_id", batchID, "images", len(images))

	// Fan out one task per image and join on all of them. A failing
	// item never aborts its siblings; each task traps its own error
	// into the outcome slot it owns.
	results := make([]Outcome, len(images))
	done := make(chan struct{})
	for i, img := range images {
		go func(idx int, img card.Image) {
			defer func() {
				if r := recover(); r != nil {
					results[idx] = failureOutcome(img.FileName, fmt.Sprintf("panic while processing: %v", r))
				}
				done <- struct{}{}
			}()
			results[idx] = p.processOne(ctx, img)
		}(i, img)
	}
	for range images {
		<-done
	}

	c := Classify(results)
	p.logger.Info("batch complete",
		"batch_id", batchID,
		"total", c.Total,
		"successes", len(c.Successes),
		"failures", len(c.Failures))

	return results, nil
}

// processOne extracts one image, screens it for duplication and
// conditionally writes it. Every failure mode collapses into a
// failure outcome attributable to this image.
func (p *Processor) processOne(ctx context.Context, img card.Image) Outcome {
	rec, err := p.extractor.Extract(ctx, img)
	if err != nil {
		p.logger.Warn("extraction failed", "file", img.FileName, "error", err)
		return failureOutcome(img.FileName, fmt.Sprintf("画像の解析に失敗しました: %v", err))
	}
	if !rec.IsValidImage {
		return failureOutcome(img.FileName, "画像の解析に失敗しました。名刺の画像であることを確認してください")
	}

	res := CardResult{Record: *rec}

	// Duplicate screening keys on the exact formatted name. A record
	// without a name cannot collide, so it writes unconditionally.
	if rec.Name != "" {
		dup, err := p.store.FindDuplicate(ctx, rec.Name)
		if err != nil {
			return failureOutcome(img.FileName, fmt.Sprintf("重複チェックに失敗しました: %v", err))
		}
		if dup {
			p.logger.Warn("duplicate name, withholding write", "file", img.FileName, "name", rec.Name)
			res.MayBeDuplicate = true
			return successOutcome(img.FileName, res)
		}
	}

	id, err := p.store.CreateCard(ctx, card.Fields(*rec))
	if err != nil {
		return failureOutcome(img.FileName, fmt.Sprintf("レコードの作成に失敗しました: %v", err))
	}
	res.RecordID = id

	p.logger.Info("record created", "file", img.FileName, "name", rec.Name, "record_id", id)
	return successOutcome(img.FileName, res)
}

// Confirm performs the deferred write carried by an action token.
// The token must already have passed Validate; a second call with the
// same token issues a second write.
func (p *Processor) Confirm(ctx context.Context, tok *ActionToken) (string, error) {
	if err := tok.Validate(); err != nil {
		return "", err
	}

	id, err := p.store.CreateCard(ctx, card.Fields(tok.Data))
	if err != nil {
		return "", fmt.Errorf("deferred record create failed: %w", err)
	}

	p.logger.Info("deferred record created", "name", tok.Data.Name, "record_id", id)
	return id, nil
}
