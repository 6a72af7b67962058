package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/store"
	"github.com/meishi-bot/meishi/internal/vision"
)

func testImages(n int) []card.Image {
	imgs := make([]card.Image, n)
	for i := range imgs {
		imgs[i] = card.Image{
			FileName:    fmt.Sprintf("card-%d.jpg", i),
			ContentType: "image/jpeg",
			Data:        []byte{0xff, 0xd8},
		}
	}
	return imgs
}

func TestProcess_Intake(t *testing.T) {
	ext := vision.NewMockExtractor()
	st := store.NewMockStore()
	p := New(ext, st, nil)

	t.Run("rejects empty batch", func(t *testing.T) {
		_, err := p.Process(context.Background(), nil, Limits{})
		if !errors.Is(err, ErrNoImages) {
			t.Fatalf("expected ErrNoImages, got %v", err)
		}
		if ext.Calls() != 0 {
			t.Error("expected no extraction calls")
		}
	})

	t.Run("rejects over-cap batch", func(t *testing.T) {
		_, err := p.Process(context.Background(), testImages(6), Limits{MaxImages: 5})
		if !errors.Is(err, ErrTooManyImages) {
			t.Fatalf("expected ErrTooManyImages, got %v", err)
		}
		if ext.Calls() != 0 {
			t.Error("expected no extraction calls")
		}
	})
}

func TestProcess_AllSucceed(t *testing.T) {
	ext := vision.NewMockExtractor()
	ext.ByFileName = map[string]*card.Record{}
	for i := 0; i < 4; i++ {
		ext.ByFileName[fmt.Sprintf("card-%d.jpg", i)] = &card.Record{
			Name:         fmt.Sprintf("人物　%d", i),
			IsValidImage: true,
		}
	}
	st := store.NewMockStore()
	p := New(ext, st, nil)

	outcomes, err := p.Process(context.Background(), testImages(4), Limits{MaxImages: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := Classify(outcomes)
	if c.Total != 4 || len(c.Failures) != 0 || len(c.Successes) != 4 {
		t.Fatalf("unexpected classification: total=%d successes=%d failures=%d",
			c.Total, len(c.Successes), len(c.Failures))
	}
	for _, o := range c.Successes {
		if o.Data.MayBeDuplicate {
			t.Errorf("%s unexpectedly flagged as duplicate", o.FileName)
		}
		if o.Data.RecordID == "" {
			t.Errorf("%s has no record id", o.FileName)
		}
	}
	if got := len(st.Creates()); got != 4 {
		t.Errorf("expected 4 writes, got %d", got)
	}
}

func TestProcess_FailureIsolation(t *testing.T) {
	ext := vision.NewMockExtractor()
	ext.FailFiles = map[string]error{"card-1.jpg": errors.New("model timeout")}
	st := store.NewMockStore()
	p := New(ext, st, nil)

	outcomes, err := p.Process(context.Background(), testImages(3), Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := Classify(outcomes)
	if c.Total != 3 || len(c.Failures) != 1 || len(c.Successes) != 2 {
		t.Fatalf("unexpected classification: total=%d successes=%d failures=%d",
			c.Total, len(c.Successes), len(c.Failures))
	}
	if c.Failures[0].FileName != "card-1.jpg" {
		t.Errorf("wrong item failed: %s", c.Failures[0].FileName)
	}
	for _, o := range c.Successes {
		if o.FileName == "card-1.jpg" {
			t.Error("failing item leaked into successes")
		}
	}
}

func TestProcess_InvalidImageIsFailure(t *testing.T) {
	ext := vision.NewMockExtractor()
	ext.Record = &card.Record{IsValidImage: false}
	st := store.NewMockStore()
	p := New(ext, st, nil)

	outcomes, err := p.Process(context.Background(), testImages(1), Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].Success {
		t.Fatal("expected failure for non-card image")
	}
	if len(st.Creates()) != 0 {
		t.Error("expected no write for non-card image")
	}
}

func TestProcess_DuplicateGate(t *testing.T) {
	t.Run("duplicate withholds the write", func(t *testing.T) {
		ext := vision.NewMockExtractor()
		ext.Record = &card.Record{Name: "田中　太郎", Company: "株式会社サンプル", IsValidImage: true}
		st := store.NewMockStore()
		st.Existing["田中　太郎"] = true
		p := New(ext, st, nil)

		outcomes, err := p.Process(context.Background(), testImages(1), Limits{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		o := outcomes[0]
		if !o.Success {
			t.Fatalf("expected success outcome, got failure: %s", o.Err)
		}
		if !o.Data.MayBeDuplicate {
			t.Error("expected MayBeDuplicate flag")
		}
		if o.Data.Company != "株式会社サンプル" {
			t.Error("record data must still be fully reported")
		}
		if len(st.Creates()) != 0 {
			t.Error("expected no write at batch time")
		}
	})

	t.Run("store error is a hard per-item failure", func(t *testing.T) {
		ext := vision.NewMockExtractor()
		st := store.NewMockStore()
		st.FindErr = errors.New("store unreachable")
		p := New(ext, st, nil)

		outcomes, err := p.Process(context.Background(), testImages(1), Limits{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcomes[0].Success {
			t.Fatal("expected failure when duplicate check errors")
		}
		if len(st.Creates()) != 0 {
			t.Error("item must not fall through to a write")
		}
	})

	t.Run("empty name skips screening and writes", func(t *testing.T) {
		ext := vision.NewMockExtractor()
		ext.Record = &card.Record{Company: "名無し商事", IsValidImage: true}
		st := store.NewMockStore()
		st.FindErr = errors.New("should not be called")
		p := New(ext, st, nil)

		outcomes, err := p.Process(context.Background(), testImages(1), Limits{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !outcomes[0].Success {
			t.Fatalf("expected success, got: %s", outcomes[0].Err)
		}
		if len(st.Finds()) != 0 {
			t.Error("expected no duplicate lookup for empty name")
		}
		if len(st.Creates()) != 1 {
			t.Error("expected unconditional write")
		}
	})

	t.Run("write error surfaces as failure", func(t *testing.T) {
		ext := vision.NewMockExtractor()
		st := store.NewMockStore()
		st.CreateErr = errors.New("layout missing")
		p := New(ext, st, nil)

		outcomes, err := p.Process(context.Background(), testImages(1), Limits{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcomes[0].Success {
			t.Fatal("expected failure when write errors")
		}
	})
}

func TestProcess_OutcomesKeepFileNames(t *testing.T) {
	ext := vision.NewMockExtractor()
	ext.Latency = 5 * time.Millisecond // mixed completion order
	st := store.NewMockStore()
	p := New(ext, st, nil)

	images := testImages(5)
	outcomes, err := p.Process(context.Background(), images, Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[string]bool)
	for _, o := range outcomes {
		seen[o.FileName] = true
	}
	for _, img := range images {
		if !seen[img.FileName] {
			t.Errorf("outcome missing for %s", img.FileName)
		}
	}
}

func TestConfirm(t *testing.T) {
	t.Run("issues exactly one normalized write", func(t *testing.T) {
		st := store.NewMockStore()
		p := New(vision.NewMockExtractor(), st, nil)

		tok := NewActionToken(card.Record{
			Name:         "田中　太郎",
			Tel:          "03(1234)5678",
			Fax:          "/",
			IsValidImage: true,
		}, "C123", "1700000000.000100")

		id, err := p.Confirm(context.Background(), &tok)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id == "" {
			t.Error("expected record id")
		}

		creates := st.Creates()
		if len(creates) != 1 {
			t.Fatalf("expected exactly one write, got %d", len(creates))
		}
		if creates[0].Tel != "03-1234-5678" {
			t.Errorf("expected normalized tel, got %q", creates[0].Tel)
		}
		if creates[0].Fax != "" {
			t.Errorf("expected empty fax, got %q", creates[0].Fax)
		}
	})

	t.Run("rejects token missing channel before any write", func(t *testing.T) {
		st := store.NewMockStore()
		p := New(vision.NewMockExtractor(), st, nil)

		tok := NewActionToken(card.Record{Name: "x"}, "", "1700000000.000100")
		_, err := p.Confirm(context.Background(), &tok)
		if !errors.Is(err, ErrTokenChannelMissing) {
			t.Fatalf("expected ErrTokenChannelMissing, got %v", err)
		}
		if len(st.Creates()) != 0 {
			t.Error("expected no write for invalid token")
		}
	})
}

func TestClassify(t *testing.T) {
	outcomes := []Outcome{
		successOutcome("a.jpg", CardResult{}),
		failureOutcome("b.jpg", "boom"),
		successOutcome("c.jpg", CardResult{}),
	}

	c := Classify(outcomes)
	if c.Total != len(c.Successes)+len(c.Failures) {
		t.Error("total invariant violated")
	}
	if len(c.Successes) != 2 || len(c.Failures) != 1 {
		t.Errorf("unexpected partition: %d/%d", len(c.Successes), len(c.Failures))
	}
	if c.Successes[0].FileName != "a.jpg" || c.Successes[1].FileName != "c.jpg" {
		t.Error("partition must preserve order")
	}
}

func TestBuildSummary(t *testing.T) {
	c := Classify([]Outcome{
		successOutcome("a.jpg", CardResult{RecordID: "1"}),
		successOutcome("b.jpg", CardResult{MayBeDuplicate: true}),
		failureOutcome("c.jpg", "boom"),
	})

	s := BuildSummary(c, "C123", "111.222")
	if s.Total != 3 || s.SuccessCount != 2 || s.FailureCount != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if len(s.Created) != 1 || len(s.Deferred) != 1 {
		t.Errorf("unexpected partitions: created=%d deferred=%d", len(s.Created), len(s.Deferred))
	}
	if s.ChannelID != "C123" || s.ThreadTS != "111.222" {
		t.Error("routing context lost")
	}
}
