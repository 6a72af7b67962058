package vision

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/meishi-bot/meishi/internal/card"
)

const MockName = "mock"

// MockExtractor is an Extractor for testing.
type MockExtractor struct {
	// Configurable behavior
	Latency time.Duration
	Err     error
	Record  *card.Record
	// ByFileName overrides the response per input file name.
	ByFileName map[string]*card.Record
	// FailFiles lists file names whose extraction should fail.
	FailFiles map[string]error

	// State
	calls atomic.Int64
}

// NewMockExtractor creates a mock that returns a minimal valid record.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{
		Record: &card.Record{Name: "田中　太郎", IsValidImage: true},
	}
}

func (m *MockExtractor) Name() string { return MockName }

// Calls returns how many extractions were attempted.
func (m *MockExtractor) Calls() int64 { return m.calls.Load() }

func (m *MockExtractor) Extract(ctx context.Context, img card.Image) (*card.Record, error) {
	m.calls.Add(1)

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := m.FailFiles[img.FileName]; ok {
		if err == nil {
			err = fmt.Errorf("mock extraction failure for %s", img.FileName)
		}
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if rec, ok := m.ByFileName[img.FileName]; ok {
		out := *rec
		return &out, nil
	}
	if m.Record != nil {
		out := *m.Record
		return &out, nil
	}
	return nil, fmt.Errorf("mock extractor has no record configured")
}
