package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"server/internal/infra"
	"server/internal/preview"
	img "server/internal/providers/image"
	"server/internal/providers/prompt"
	"server/internal/storage"
)

// ErrEditUnavailable marks a request that reached the image service but got
// no usable payload back. Handlers map it to 502.
var ErrEditUnavailable = errors.New("image edit service unavailable")

const fetchTimeout = 30 * time.Second

// ValidationError reports a request rejected before any external call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Options wires the pipeline's collaborators.
type Options struct {
	Store         *storage.FileStore
	Interpreter   prompt.Interpreter
	Editor        img.Editor
	Logger        infra.Logger
	HTTPClient    *http.Client
	MaxFetchBytes int64
}

// Service orchestrates one edit request: validate, stage, preview, interpret,
// edit, persist. Steps run in strict sequence; the service itself holds no
// per-request state and is shared across requests.
type Service struct {
	store         *storage.FileStore
	interpreter   prompt.Interpreter
	editor        img.Editor
	logger        infra.Logger
	httpClient    *http.Client
	maxFetchBytes int64
}

// Request describes one incoming edit request. Exactly one of UploadKey
// (a file already staged by the handler) or ImageURL must be set.
type Request struct {
	UploadKey string
	MIME      string
	ImageURL  string
	Prompt    string
	RequestID string
}

// Result is returned once the output image has been durably written.
type Result struct {
	Parsed     string
	Degraded   bool
	UploadKey  string
	PreviewKey string
	OutputKey  string
}

// NewService constructs the pipeline service.
func NewService(opts Options) *Service {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	maxFetch := opts.MaxFetchBytes
	if maxFetch <= 0 {
		maxFetch = 8 << 20
	}
	return &Service{
		store:         opts.Store,
		interpreter:   opts.Interpreter,
		editor:        opts.Editor,
		logger:        opts.Logger,
		httpClient:    client,
		maxFetchBytes: maxFetch,
	}
}

// NormalizePrompt trims and NFC-normalizes a user prompt.
func NormalizePrompt(p string) string {
	return norm.NFC.String(strings.TrimSpace(p))
}

// Process runs the full pipeline for one request.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	userPrompt := NormalizePrompt(req.Prompt)
	if userPrompt == "" {
		s.cleanupStaged(req.UploadKey)
		return nil, &ValidationError{Reason: "prompt is required"}
	}
	if req.UploadKey == "" && strings.TrimSpace(req.ImageURL) == "" {
		return nil, &ValidationError{Reason: "image is required"}
	}

	uploadKey := req.UploadKey
	mimeType := req.MIME
	if uploadKey == "" {
		key, fetchedMIME, err := s.fetchRemote(ctx, req.ImageURL)
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				return nil, verr
			}
			return nil, fmt.Errorf("fetch image url: %w", err)
		}
		uploadKey = key
		mimeType = fetchedMIME
	}

	source, err := s.store.Read(ctx, uploadKey)
	if err != nil {
		return nil, fmt.Errorf("read staged upload: %w", err)
	}

	rendered, err := preview.Render(source)
	if err != nil {
		return nil, err
	}
	previewKey, err := s.store.Write(ctx, storage.PreviewKey(uploadKey), rendered.Data)
	if err != nil {
		return nil, fmt.Errorf("write preview: %w", err)
	}

	interp := s.interpreter.Interpret(ctx, userPrompt)
	if interp.Degraded {
		s.logger.Warn().
			Err(interp.Cause).
			Str("request_id", req.RequestID).
			Msg("pipeline: proceeding with original prompt")
	}

	edited := s.editor.Edit(ctx, img.EditRequest{
		Data:        source,
		MIME:        mimeType,
		Instruction: interp.Text,
		RequestID:   req.RequestID,
	})
	if edited.Degraded {
		return nil, fmt.Errorf("%w: %v", ErrEditUnavailable, edited.Cause)
	}

	outputKey, err := s.store.Write(ctx, storage.NewOutputKey(), edited.Data)
	if err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	s.logger.Info().
		Str("request_id", req.RequestID).
		Str("upload", uploadKey).
		Str("preview", previewKey).
		Str("output", outputKey).
		Bool("prompt_degraded", interp.Degraded).
		Msg("pipeline: request processed")

	return &Result{
		Parsed:     interp.Text,
		Degraded:   interp.Degraded,
		UploadKey:  uploadKey,
		PreviewKey: previewKey,
		OutputKey:  outputKey,
	}, nil
}

// fetchRemote downloads an image URL and stages it. The body must declare an
// image content type and fit within the configured size cap.
func (s *Service) fetchRemote(ctx context.Context, rawURL string) (string, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", &ValidationError{Reason: "invalid image url"}
	}
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", "", &ValidationError{Reason: "failed to download image url"}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", "", &ValidationError{Reason: fmt.Sprintf("image url returned status %d", resp.StatusCode)}
	}
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return "", "", &ValidationError{Reason: "image url must reference an image"}
	}

	limited := io.LimitReader(resp.Body, s.maxFetchBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", "", fmt.Errorf("read image url body: %w", err)
	}
	if len(data) == 0 {
		return "", "", &ValidationError{Reason: "downloaded image is empty"}
	}
	if int64(len(data)) > s.maxFetchBytes {
		return "", "", &ValidationError{Reason: "downloaded image exceeds size limit"}
	}

	ext := extensionFor(mediaType)
	if ext == "" {
		return "", "", &ValidationError{Reason: "unsupported image type"}
	}
	key, err := s.store.Stage(ctx, bytes.NewReader(data), ext)
	if err != nil {
		return "", "", err
	}
	return key, mediaType, nil
}

func (s *Service) cleanupStaged(key string) {
	if key == "" {
		return
	}
	if err := s.store.Remove(key); err != nil {
		s.logger.Warn().Err(err).Str("upload", key).Msg("pipeline: failed to remove staged upload")
	}
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
