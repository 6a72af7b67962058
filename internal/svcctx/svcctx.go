// Package svcctx provides service context for dependency injection
// via context. This package is separate from server to avoid import
// cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/meishi-bot/meishi/internal/config"
	"github.com/meishi-bot/meishi/internal/pipeline"
	"github.com/meishi-bot/meishi/internal/report"
	"github.com/meishi-bot/meishi/internal/store"
	"github.com/meishi-bot/meishi/internal/vision"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Pipeline  *pipeline.Processor
	Store     store.Store
	Extractor vision.Extractor
	Reporter  report.Reporter
	ConfigMgr *config.Manager
	Logger    *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// PipelineFrom extracts the batch processor from context.
func PipelineFrom(ctx context.Context) *pipeline.Processor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pipeline
	}
	return nil
}

// StoreFrom extracts the card store from context.
func StoreFrom(ctx context.Context) store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// ReporterFrom extracts the result reporter from context.
func ReporterFrom(ctx context.Context) report.Reporter {
	if s := ServicesFrom(ctx); s != nil {
		return s.Reporter
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigMgr
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
