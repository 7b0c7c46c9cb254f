package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/pipeline"
	img "server/internal/providers/image"
	"server/internal/providers/prompt"
	"server/internal/storage"
)

type stubInterpreter struct {
	degraded bool
}

func (s *stubInterpreter) Interpret(ctx context.Context, p string) prompt.Interpretation {
	if s.degraded {
		return prompt.Degrade(p, errors.New("text service down"))
	}
	return prompt.Interpretation{Text: "interpreted: " + p}
}

type stubEditor struct {
	degraded bool
}

func (s *stubEditor) Edit(ctx context.Context, req img.EditRequest) img.EditResult {
	if s.degraded {
		return img.Degrade(errors.New("image service down"))
	}
	return img.EditResult{Data: []byte("edited-bytes"), MIME: "image/png"}
}

type testEnv struct {
	server *httptest.Server
	store  *storage.FileStore
}

func newTestEnv(t *testing.T, interp prompt.Interpreter, editor img.Editor) *testEnv {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := &infra.Config{
		AppEnv:          "test",
		Port:            "0",
		PublicBaseURL:   "http://api.test",
		MaxUploadMB:     1,
		RateLimit:       1000,
		RateLimitWindow: time.Minute,
	}
	logger := zerolog.New(io.Discard)
	pipe := pipeline.NewService(pipeline.Options{
		Store:         store,
		Interpreter:   interp,
		Editor:        editor,
		Logger:        logger,
		MaxFetchBytes: cfg.MaxUploadBytes(),
	})
	app := handlers.NewApp(cfg, logger, store, pipe)
	srv := httptest.NewServer(httpapi.NewRouter(app, nil))
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: store}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	im := image.NewRGBA(image.Rect(0, 0, 12, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 12; x++ {
			im.Set(x, y, color.RGBA{R: 10, G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, im); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename string, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(file); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postProcess(t *testing.T, env *testEnv, body *bytes.Buffer, contentType string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(env.server.URL+"/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /process: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func storedNames(t *testing.T, store *storage.FileStore) []string {
	t.Helper()
	entries, err := os.ReadDir(store.BasePath())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessMissingPromptReturns400(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{})
	body, ct := multipartBody(t, "cat.png", pngBytes(t), map[string]string{"prompt": "   "})

	resp, payload := postProcess(t, env, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if payload["error"] == "" {
		t.Fatal("error message missing")
	}
	if files := storedNames(t, env.store); len(files) != 0 {
		t.Fatalf("files left behind: %v", files)
	}
}

func TestProcessMissingImageReturns400(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{})
	body, ct := multipartBody(t, "", nil, map[string]string{"prompt": "brighten it"})

	resp, _ := postProcess(t, env, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if files := storedNames(t, env.store); len(files) != 0 {
		t.Fatalf("files created: %v", files)
	}
}

func TestProcessRejectsDisallowedFileType(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{})
	body, ct := multipartBody(t, "clip.gif", []byte("GIF89a"), map[string]string{"prompt": "brighten it"})

	resp, _ := postProcess(t, env, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if files := storedNames(t, env.store); len(files) != 0 {
		t.Fatalf("rejected upload was staged: %v", files)
	}
}

func TestProcessRejectsOversizeUpload(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{})
	big := make([]byte, (1<<20)+(512<<10)) // 1.5 MB against a 1 MB limit
	body, ct := multipartBody(t, "big.png", big, map[string]string{"prompt": "brighten it"})

	resp, _ := postProcess(t, env, body, ct)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProcessSuccessPersistsPreviewAndOutput(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{})
	body, ct := multipartBody(t, "cat.png", pngBytes(t), map[string]string{"prompt": "brighten it"})

	resp, payload := postProcess(t, env, body, ct)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, payload)
	}
	if payload["success"] != true {
		t.Fatalf("success = %v", payload["success"])
	}
	if payload["parsed"] != "interpreted: brighten it" {
		t.Fatalf("parsed = %v", payload["parsed"])
	}

	for _, field := range []string{"imageUrl", "previewUrl"} {
		raw, _ := payload[field].(string)
		key, ok := strings.CutPrefix(raw, "http://api.test/storage/")
		if !ok {
			t.Fatalf("%s = %q, want storage URL", field, raw)
		}
		path, err := env.store.Resolve(key)
		if err != nil {
			t.Fatalf("%s resolve: %v", field, err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("%s target missing: %v", field, err)
		}
	}
}

func TestProcessTextServiceDownStillSucceeds(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{degraded: true}, &stubEditor{})
	body, ct := multipartBody(t, "cat.png", pngBytes(t), map[string]string{"prompt": "brighten it"})

	resp, payload := postProcess(t, env, body, ct)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, payload)
	}
	if payload["parsed"] != "brighten it" {
		t.Fatalf("parsed = %v, want original prompt", payload["parsed"])
	}
}

func TestProcessImageServiceDownReturns502(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{degraded: true})
	body, ct := multipartBody(t, "cat.png", pngBytes(t), map[string]string{"prompt": "brighten it"})

	resp, payload := postProcess(t, env, body, ct)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %v", resp.StatusCode, payload)
	}
	if payload["error"] != "image edit service unavailable" {
		t.Fatalf("error = %v", payload["error"])
	}
	for _, name := range storedNames(t, env.store) {
		if strings.HasPrefix(name, "out-") {
			t.Fatalf("output persisted despite failure: %s", name)
		}
	}
}

func TestHealthReportsOkWithIncreasingTimestamp(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{})

	fetch := func() (string, float64) {
		resp, err := http.Get(env.server.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		var payload struct {
			Status string  `json:"status"`
			TS     float64 `json:"ts"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			t.Fatalf("decode health: %v", err)
		}
		return payload.Status, payload.TS
	}

	status, first := fetch()
	if status != "ok" {
		t.Fatalf("status field = %q", status)
	}
	_, second := fetch()
	if second <= first {
		t.Fatalf("ts not strictly increasing: %v then %v", first, second)
	}
}

func TestStorageServesPersistedFiles(t *testing.T) {
	env := newTestEnv(t, &stubInterpreter{}, &stubEditor{})
	key, err := env.store.Write(context.Background(), "out-1-abc.png", []byte("persisted"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	resp, err := http.Get(env.server.URL + "/storage/" + key)
	if err != nil {
		t.Fatalf("GET /storage: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "persisted" {
		t.Fatalf("body = %q", data)
	}

	missing, err := http.Get(env.server.URL + "/storage/absent.png")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", missing.StatusCode)
	}
}

func TestRateLimitAppliesAcrossEndpoints(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cfg := &infra.Config{
		AppEnv:          "test",
		PublicBaseURL:   "http://api.test",
		MaxUploadMB:     1,
		RateLimit:       2,
		RateLimitWindow: time.Minute,
	}
	logger := zerolog.New(io.Discard)
	pipe := pipeline.NewService(pipeline.Options{
		Store:       store,
		Interpreter: &stubInterpreter{},
		Editor:      &stubEditor{},
		Logger:      logger,
	})
	app := handlers.NewApp(cfg, logger, store, pipe)
	srv := httptest.NewServer(httpapi.NewRouter(app, nil))
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("GET /health: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, resp.StatusCode)
		}
	}
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d, want 429", resp.StatusCode)
	}
}
