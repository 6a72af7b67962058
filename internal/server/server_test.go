package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/pipeline"
	"github.com/meishi-bot/meishi/internal/report"
	"github.com/meishi-bot/meishi/internal/server/endpoints"
	"github.com/meishi-bot/meishi/internal/store"
	"github.com/meishi-bot/meishi/internal/svcctx"
	"github.com/meishi-bot/meishi/internal/vision"
)

type testEnv struct {
	srv       *Server
	extractor *vision.MockExtractor
	store     *store.MockStore
	reporter  *report.MockReporter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ext := vision.NewMockExtractor()
	st := store.NewMockStore()
	rep := &report.MockReporter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	services := &svcctx.Services{
		Pipeline:  pipeline.New(ext, st, logger),
		Store:     st,
		Extractor: ext,
		Reporter:  rep,
		Logger:    logger,
	}

	srv, err := New(Config{
		Services: services,
		Endpoints: endpoints.Config{
			SlackClient: slack.New("xoxb-test"),
			MaxImages:   5,
		},
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{srv: srv, extractor: ext, store: st, reporter: rep}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.httpServer.Handler.ServeHTTP(rr, req)
	return rr
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func multipartBody(t *testing.T, fileNames []string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range fileNames {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte("fake image bytes"))
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error when services are missing")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestUpload(t *testing.T) {
	t.Run("batch succeeds", func(t *testing.T) {
		env := newTestEnv(t)

		body, contentType := multipartBody(t, []string{"a.jpg", "b.jpg"})
		req := httptest.NewRequest("POST", "/api/cards/upload", body)
		req.Header.Set("Content-Type", contentType)

		rr := env.do(req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}

		var resp endpoints.UploadResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Total != 2 || resp.SuccessCount != 2 || resp.FailureCount != 0 {
			t.Errorf("summary = %d/%d/%d, want 2/2/0", resp.Total, resp.SuccessCount, resp.FailureCount)
		}
		if got := len(env.store.Creates()); got != 2 {
			t.Errorf("store writes = %d, want 2", got)
		}
	})

	t.Run("no files rejected", func(t *testing.T) {
		env := newTestEnv(t)

		body, contentType := multipartBody(t, nil)
		req := httptest.NewRequest("POST", "/api/cards/upload", body)
		req.Header.Set("Content-Type", contentType)

		rr := env.do(req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if env.extractor.Calls() != 0 {
			t.Error("extraction ran for an empty batch")
		}
	})

	t.Run("over cap rejected", func(t *testing.T) {
		env := newTestEnv(t)

		var names []string
		for i := 0; i < 6; i++ {
			names = append(names, fmt.Sprintf("card-%d.jpg", i))
		}
		body, contentType := multipartBody(t, names)
		req := httptest.NewRequest("POST", "/api/cards/upload", body)
		req.Header.Set("Content-Type", contentType)

		rr := env.do(req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if env.extractor.Calls() != 0 {
			t.Error("extraction ran for an oversized batch")
		}
	})

	t.Run("non-image rejected", func(t *testing.T) {
		env := newTestEnv(t)

		body, contentType := multipartBody(t, []string{"notes.txt"})
		req := httptest.NewRequest("POST", "/api/cards/upload", body)
		req.Header.Set("Content-Type", contentType)

		rr := env.do(req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "not an image") {
			t.Errorf("unexpected body: %s", rr.Body.String())
		}
	})

	t.Run("duplicate withheld", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.Existing["田中　太郎"] = true

		body, contentType := multipartBody(t, []string{"a.jpg"})
		req := httptest.NewRequest("POST", "/api/cards/upload", body)
		req.Header.Set("Content-Type", contentType)

		rr := env.do(req)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}

		var resp endpoints.UploadResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if len(resp.Outcomes) != 1 || resp.Outcomes[0].Data == nil {
			t.Fatalf("unexpected outcomes: %+v", resp.Outcomes)
		}
		if !resp.Outcomes[0].Data.MayBeDuplicate {
			t.Error("duplicate flag not set")
		}
		if got := len(env.store.Creates()); got != 0 {
			t.Errorf("store writes = %d, want 0", got)
		}
	})
}

func TestConfirm(t *testing.T) {
	encodeToken := func(t *testing.T, tok pipeline.ActionToken) string {
		t.Helper()
		value, err := tok.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		return value
	}

	post := func(env *testEnv, token string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(endpoints.ConfirmRequest{Token: token})
		req := httptest.NewRequest("POST", "/api/cards/confirm", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(req)
	}

	t.Run("creates the withheld record", func(t *testing.T) {
		env := newTestEnv(t)

		rec := card.Record{Name: "佐藤　花子", IsValidImage: true}
		rr := post(env, encodeToken(t, pipeline.NewActionToken(rec, "C01", "123.456")))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
		}

		var resp endpoints.ConfirmResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.RecordID != "rec-1" || resp.Name != "佐藤　花子" {
			t.Errorf("response = %+v", resp)
		}
		if got := len(env.store.Creates()); got != 1 {
			t.Errorf("store writes = %d, want 1", got)
		}
	})

	t.Run("malformed token rejected", func(t *testing.T) {
		env := newTestEnv(t)

		rr := post(env, "{not json")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if got := len(env.store.Creates()); got != 0 {
			t.Errorf("store writes = %d, want 0", got)
		}
	})

	t.Run("missing routing rejected before write", func(t *testing.T) {
		env := newTestEnv(t)

		rec := card.Record{Name: "佐藤　花子", IsValidImage: true}
		rr := post(env, encodeToken(t, pipeline.NewActionToken(rec, "", "123.456")))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if got := len(env.store.Creates()); got != 0 {
			t.Errorf("store writes = %d, want 0", got)
		}
	})

	t.Run("empty token rejected", func(t *testing.T) {
		env := newTestEnv(t)

		rr := post(env, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}

func TestSlackEvents(t *testing.T) {
	postEvent := func(env *testEnv, payload any) *httptest.ResponseRecorder {
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/slack/events", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return env.do(req)
	}

	t.Run("url verification echoes challenge", func(t *testing.T) {
		env := newTestEnv(t)

		rr := postEvent(env, map[string]string{
			"type":      "url_verification",
			"challenge": "challenge-token",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		if rr.Body.String() != "challenge-token" {
			t.Errorf("body = %q, want the challenge", rr.Body.String())
		}
	})

	t.Run("file share runs the batch", func(t *testing.T) {
		env := newTestEnv(t)

		fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("fake image bytes"))
		}))
		defer fileSrv.Close()

		rr := postEvent(env, map[string]any{
			"type": "event_callback",
			"event": map[string]any{
				"type":    "message",
				"subtype": "file_share",
				"channel": "C01",
				"ts":      "111.222",
				"files": []map[string]string{
					{"name": "a.jpg", "mimetype": "image/jpeg", "url_private_download": fileSrv.URL + "/a.jpg"},
					{"name": "b.jpg", "mimetype": "image/jpeg", "url_private_download": fileSrv.URL + "/b.jpg"},
				},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}

		waitFor(t, func() bool { return len(env.reporter.Summaries()) == 1 }, "summary message")

		if got := env.reporter.Progress(); len(got) != 1 || got[0] != 2 {
			t.Errorf("progress = %v, want [2]", got)
		}
		sum := env.reporter.Summaries()[0]
		if sum.Total != 2 || sum.SuccessCount != 2 || sum.ChannelID != "C01" || sum.ThreadTS != "111.222" {
			t.Errorf("summary = %+v", sum)
		}
		if got := len(env.store.Creates()); got != 2 {
			t.Errorf("store writes = %d, want 2", got)
		}
	})

	t.Run("failed download does not discard siblings", func(t *testing.T) {
		env := newTestEnv(t)

		fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "bad.jpg") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("fake image bytes"))
		}))
		defer fileSrv.Close()

		rr := postEvent(env, map[string]any{
			"type": "event_callback",
			"event": map[string]any{
				"type":    "message",
				"subtype": "file_share",
				"channel": "C01",
				"ts":      "111.222",
				"files": []map[string]string{
					{"name": "good.jpg", "mimetype": "image/jpeg", "url_private_download": fileSrv.URL + "/good.jpg"},
					{"name": "bad.jpg", "mimetype": "image/jpeg", "url_private_download": fileSrv.URL + "/bad.jpg"},
				},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}

		waitFor(t, func() bool { return len(env.reporter.Summaries()) == 1 }, "summary message")

		sum := env.reporter.Summaries()[0]
		if sum.Total != 2 || sum.SuccessCount != 1 || sum.FailureCount != 1 {
			t.Errorf("summary = %d/%d/%d, want 2/1/1", sum.Total, sum.SuccessCount, sum.FailureCount)
		}
		if got := len(env.store.Creates()); got != 1 {
			t.Errorf("store writes = %d, want 1", got)
		}

		failures := env.reporter.Failures()
		if len(failures) != 1 || len(failures[0]) != 1 {
			t.Fatalf("failure posts = %+v, want one with one item", failures)
		}
		if f := failures[0][0]; f.FileName != "bad.jpg" || !strings.Contains(f.Err, "ダウンロード") {
			t.Errorf("failure outcome = %+v", f)
		}
	})

	t.Run("no images asks for an attachment", func(t *testing.T) {
		env := newTestEnv(t)

		rr := postEvent(env, map[string]any{
			"type": "event_callback",
			"event": map[string]any{
				"type":    "message",
				"subtype": "file_share",
				"channel": "C01",
				"ts":      "111.222",
				"files": []map[string]string{
					{"name": "doc.pdf", "mimetype": "application/pdf", "url_private_download": "http://unused"},
				},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}

		waitFor(t, func() bool { return len(env.reporter.Texts()) == 1 }, "attachment prompt")
		if got := env.reporter.Texts()[0]; got != "画像を添付してください" {
			t.Errorf("text = %q", got)
		}
	})

	t.Run("over cap posts an error", func(t *testing.T) {
		env := newTestEnv(t)

		var files []map[string]string
		for i := 0; i < 6; i++ {
			files = append(files, map[string]string{
				"name":                 fmt.Sprintf("card-%d.jpg", i),
				"mimetype":             "image/jpeg",
				"url_private_download": "http://unused",
			})
		}
		postEvent(env, map[string]any{
			"type": "event_callback",
			"event": map[string]any{
				"type":    "message",
				"subtype": "file_share",
				"channel": "C01",
				"ts":      "111.222",
				"files":   files,
			},
		})

		waitFor(t, func() bool { return len(env.reporter.Errors()) == 1 }, "error message")
		if got := env.reporter.Errors()[0]; got != "画像は最大5枚までです" {
			t.Errorf("error = %q", got)
		}
		if env.extractor.Calls() != 0 {
			t.Error("extraction ran for an oversized batch")
		}
	})

	t.Run("bot messages are ignored", func(t *testing.T) {
		env := newTestEnv(t)

		rr := postEvent(env, map[string]any{
			"type": "event_callback",
			"event": map[string]any{
				"type":    "message",
				"subtype": "file_share",
				"channel": "C01",
				"ts":      "111.222",
				"bot_id":  "B01",
				"files": []map[string]string{
					{"name": "a.jpg", "mimetype": "image/jpeg", "url_private_download": "http://unused"},
				},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}

		time.Sleep(50 * time.Millisecond)
		if len(env.reporter.Progress()) != 0 || len(env.reporter.Texts()) != 0 {
			t.Error("bot message triggered a batch")
		}
	})
}

func TestSlackInteractions(t *testing.T) {
	postAction := func(env *testEnv, actionID, value string) *httptest.ResponseRecorder {
		payload, _ := json.Marshal(map[string]any{
			"type": "block_actions",
			"actions": []map[string]any{
				{
					"type":      "button",
					"action_id": actionID,
					"block_id":  "b1",
					"value":     value,
				},
			},
		})
		form := url.Values{"payload": {string(payload)}}
		req := httptest.NewRequest("POST", "/slack/interactions", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return env.do(req)
	}

	t.Run("create action performs the deferred write", func(t *testing.T) {
		env := newTestEnv(t)

		rec := card.Record{Name: "佐藤　花子", IsValidImage: true}
		value, err := pipeline.NewActionToken(rec, "C01", "111.222").Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		rr := postAction(env, report.ActionCreateRecord, value)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}

		waitFor(t, func() bool { return len(env.reporter.Creations()) == 1 }, "creation notice")
		if got := env.reporter.Creations()[0].Name; got != "佐藤　花子" {
			t.Errorf("created name = %q", got)
		}
		if got := len(env.store.Creates()); got != 1 {
			t.Errorf("store writes = %d, want 1", got)
		}
	})

	t.Run("create action without routing posts an error", func(t *testing.T) {
		env := newTestEnv(t)

		rec := card.Record{Name: "佐藤　花子", IsValidImage: true}
		value, err := pipeline.NewActionToken(rec, "C01", "").Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}

		postAction(env, report.ActionCreateRecord, value)

		waitFor(t, func() bool { return len(env.reporter.Errors()) == 1 }, "error message")
		if !strings.Contains(env.reporter.Errors()[0], "channelId or threadTs is not found") {
			t.Errorf("error = %q", env.reporter.Errors()[0])
		}
		if got := len(env.store.Creates()); got != 0 {
			t.Errorf("store writes = %d, want 0", got)
		}
	})

	t.Run("malformed payload rejected", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest("POST", "/slack/interactions", strings.NewReader("payload={not json"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := env.do(req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})
}
