package report

import (
	"context"
	"sync"

	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/pipeline"
)

// MockReporter is a Reporter for testing. It records every call;
// accessors return copies so tests can poll while a batch runs.
type MockReporter struct {
	// Err is returned from every call when set.
	Err error

	mu        sync.Mutex
	texts     []string
	progress  []int
	successes [][]pipeline.Outcome
	failures  [][]pipeline.Outcome
	summaries []pipeline.Summary
	creations []card.Record
	errors    []string
}

var _ Reporter = (*MockReporter)(nil)

func (m *MockReporter) PostText(ctx context.Context, dest Destination, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return m.Err
}

func (m *MockReporter) PostProgress(ctx context.Context, dest Destination, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, n)
	return m.Err
}

func (m *MockReporter) PostSuccesses(ctx context.Context, dest Destination, successes []pipeline.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, successes)
	return m.Err
}

func (m *MockReporter) PostFailures(ctx context.Context, dest Destination, failures []pipeline.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failures)
	return m.Err
}

func (m *MockReporter) PostSummary(ctx context.Context, dest Destination, sum pipeline.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, sum)
	return m.Err
}

func (m *MockReporter) PostCreated(ctx context.Context, dest Destination, rec card.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creations = append(m.creations, rec)
	return m.Err
}

func (m *MockReporter) PostError(ctx context.Context, dest Destination, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, message)
	return m.Err
}

func (m *MockReporter) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func (m *MockReporter) Progress() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.progress...)
}

func (m *MockReporter) Successes() [][]pipeline.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]pipeline.Outcome(nil), m.successes...)
}

func (m *MockReporter) Failures() [][]pipeline.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]pipeline.Outcome(nil), m.failures...)
}

func (m *MockReporter) Summaries() []pipeline.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.Summary(nil), m.summaries...)
}

func (m *MockReporter) Creations() []card.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]card.Record(nil), m.creations...)
}

func (m *MockReporter) Errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errors...)
}
