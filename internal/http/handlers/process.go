package handlers

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"server/internal/middleware"
	"server/internal/pipeline"
)

// formOverhead leaves room for the prompt field and multipart framing on top
// of the configured image size cap.
const formOverhead = 1 << 20

var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

type processResponse struct {
	Success    bool   `json:"success"`
	Parsed     string `json:"parsed"`
	ImageURL   string `json:"imageUrl"`
	PreviewURL string `json:"previewUrl"`
}

// Process accepts a multipart form with an `image` file (or `image_url`
// field) and a `prompt`, runs the edit pipeline and returns the persisted
// file URLs.
func (a *App) Process(w http.ResponseWriter, r *http.Request) {
	maxBytes := a.Cfg.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			a.badRequest(w, "upload exceeds size limit")
			return
		}
		a.badRequest(w, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	req := pipeline.Request{
		Prompt:    r.FormValue("prompt"),
		ImageURL:  r.FormValue("image_url"),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		if header.Size > maxBytes {
			a.badRequest(w, "upload exceeds size limit")
			return
		}
		ext := strings.ToLower(filepath.Ext(header.Filename))
		wantMIME, ok := allowedExtensions[ext]
		if !ok {
			a.badRequest(w, "unsupported file type: allowed jpg, jpeg, png, webp")
			return
		}
		if declared := header.Header.Get("Content-Type"); declared != "" {
			mediaType, _, perr := mime.ParseMediaType(declared)
			switch {
			case perr != nil:
				a.badRequest(w, "uploaded file must be an image")
				return
			case strings.HasPrefix(mediaType, "image/"):
				wantMIME = mediaType
			case mediaType == "application/octet-stream":
				// some clients send a generic type; the extension is already vetted
			default:
				a.badRequest(w, "uploaded file must be an image")
				return
			}
		}
		key, serr := a.Store.Stage(r.Context(), file, ext)
		if serr != nil {
			a.failure(w, http.StatusInternalServerError, "processing failed", serr.Error())
			return
		}
		req.UploadKey = key
		req.MIME = wantMIME
	case errors.Is(err, http.ErrMissingFile):
		// image_url may still provide the source; the pipeline validates.
	default:
		a.badRequest(w, "invalid image field")
		return
	}

	result, err := a.Pipeline.Process(r.Context(), req)
	if err != nil {
		var verr *pipeline.ValidationError
		switch {
		case errors.As(err, &verr):
			a.badRequest(w, verr.Reason)
		case errors.Is(err, pipeline.ErrEditUnavailable):
			a.failure(w, http.StatusBadGateway, "image edit service unavailable", err.Error())
		default:
			a.failure(w, http.StatusInternalServerError, "processing failed", err.Error())
		}
		return
	}

	a.json(w, http.StatusOK, processResponse{
		Success:    true,
		Parsed:     result.Parsed,
		ImageURL:   a.fileURL(result.OutputKey),
		PreviewURL: a.fileURL(result.PreviewKey),
	})
}
