package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meishi-bot/meishi/internal/api"
	"github.com/meishi-bot/meishi/internal/card"
	"github.com/meishi-bot/meishi/internal/pipeline"
	"github.com/meishi-bot/meishi/internal/svcctx"
)

// UploadResponse is the response for a processed batch.
type UploadResponse struct {
	Total        int                `json:"total"`
	SuccessCount int                `json:"successCount"`
	FailureCount int                `json:"failureCount"`
	Outcomes     []pipeline.Outcome `json:"outcomes"`
}

// UploadEndpoint handles POST /api/cards/upload with multipart image upload.
type UploadEndpoint struct {
	// MaxImages caps the batch size (default pipeline.DefaultMaxImages).
	MaxImages int
}

var _ api.Endpoint = (*UploadEndpoint)(nil)

func (e *UploadEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/cards/upload", e.handler
}

func (e *UploadEndpoint) RequiresServices() bool { return true }

// handler godoc
//
//	@Summary		Process business card images
//	@Description	Upload card photos, extract each into a structured record and write non-duplicates to the store
//	@Tags			cards
//	@Accept			mpfd
//	@Produce		json
//	@Param			files	formData	file	true	"Card images to process"
//	@Success		200	{object}	UploadResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/cards/upload [post]
func (e *UploadEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 32 << 20 // 32MB
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	images := make([]card.Image, 0, len(files))
	for _, fh := range files {
		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = mime.TypeByExtension(filepath.Ext(fh.Filename))
		}
		if !strings.HasPrefix(contentType, "image/") {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("file %s is not an image", fh.Filename))
			return
		}

		src, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open uploaded file: %v", err))
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read uploaded file: %v", err))
			return
		}

		images = append(images, card.Image{
			FileName:    fh.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}

	proc := svcctx.PipelineFrom(r.Context())
	if proc == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	outcomes, err := proc.Process(r.Context(), images, pipeline.Limits{MaxImages: e.MaxImages})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrNoImages):
			writeError(w, http.StatusBadRequest, "no images uploaded")
		case errors.Is(err, pipeline.ErrTooManyImages):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("batch failed: %v", err))
		}
		return
	}

	c := pipeline.Classify(outcomes)
	writeJSON(w, http.StatusOK, UploadResponse{
		Total:        c.Total,
		SuccessCount: len(c.Successes),
		FailureCount: len(c.Failures),
		Outcomes:     outcomes,
	})
}

func (e *UploadEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <image> [image...]",
		Short: "Process card images through the running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := uploadFiles(cmd, getServerURL(), args)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// uploadFiles posts local image files as a multipart batch.
func uploadFiles(cmd *cobra.Command, serverURL string, paths []string) (*UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		for _, p := range paths {
			f, err := os.Open(p)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			part, err := mw.CreateFormFile("files", filepath.Base(p))
			if err != nil {
				f.Close()
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f); err != nil {
				f.Close()
				pw.CloseWithError(err)
				return
			}
			f.Close()
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, serverURL+"/api/cards/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(raw))
	}

	var out UploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
