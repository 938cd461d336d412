// Package uploads accepts background images for the calligraphy canvas and
// hands them back as data URLs the page can apply to the style state.
package uploads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/khattlab/khatt/pkg/export"
	"github.com/khattlab/khatt/pkg/logging"
)

// Common errors.
var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrNoFile          = errors.New("no file uploaded")
	ErrInvalidImage    = errors.New("file is not a readable image")
)

// FieldName is the multipart field carrying the image.
const FieldName = "file"

// UploadConfig configures upload behavior.
type UploadConfig struct {
	// Accept is a list of allowed MIME types. Entries may end in "/*".
	Accept []string

	// MaxFileSize is the maximum file size in bytes. Zero means no limit.
	MaxFileSize int64

	// MemoryLimit is how much of the multipart body is kept in memory
	// before spilling to temp files.
	MemoryLimit int64
}

// DefaultUploadConfig returns default upload configuration.
func DefaultUploadConfig() *UploadConfig {
	return &UploadConfig{
		Accept:      []string{"image/png", "image/jpeg", "image/gif", "image/webp"},
		MaxFileSize: 0,
		MemoryLimit: 32 << 20,
	}
}

// UploadEntry describes one accepted image.
type UploadEntry struct {
	UUID        string    `json:"uuid"`
	FileName    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	DataURL     string    `json:"data_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// UploadHandler serves POST requests carrying a single image in the "file"
// field and answers with the UploadEntry as JSON.
type UploadHandler struct {
	config    *UploadConfig
	logger    logging.Logger
	onSuccess func(entry *UploadEntry)
	onError   func(fileName string, err error)
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(config *UploadConfig, logger logging.Logger) *UploadHandler {
	if config == nil {
		config = DefaultUploadConfig()
	}
	if config.MemoryLimit <= 0 {
		config.MemoryLimit = DefaultUploadConfig().MemoryLimit
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &UploadHandler{config: config, logger: logger}
}

// OnSuccess sets the success callback.
func (h *UploadHandler) OnSuccess(fn func(entry *UploadEntry)) *UploadHandler {
	h.onSuccess = fn
	return h
}

// OnError sets the error callback.
func (h *UploadHandler) OnError(fn func(fileName string, err error)) *UploadHandler {
	h.onError = fn
	return h
}

// ServeHTTP handles upload requests.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config.MaxFileSize > 0 {
		// Leave room for the multipart framing around the file.
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxFileSize+64<<10)
	}
	if err := r.ParseMultipartForm(h.config.MemoryLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, "", ErrFileTooLarge)
			return
		}
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File[FieldName]
	if len(files) == 0 {
		h.fail(w, "", ErrNoFile)
		return
	}

	entry, err := h.handleFile(files[0])
	if err != nil {
		h.fail(w, files[0].Filename, err)
		return
	}

	h.logger.Info("background uploaded",
		logging.String("filename", entry.FileName),
		logging.String("content_type", entry.ContentType),
		logging.Int64("size", entry.Size),
	)
	if h.onSuccess != nil {
		h.onSuccess(entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

func (h *UploadHandler) fail(w http.ResponseWriter, fileName string, err error) {
	h.logger.Warn("upload rejected", logging.String("filename", fileName), logging.Err(err))
	if h.onError != nil {
		h.onError(fileName, err)
	}

	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidFileType):
		status = http.StatusUnsupportedMediaType
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (h *UploadHandler) handleFile(header *multipart.FileHeader) (*UploadEntry, error) {
	if h.config.MaxFileSize > 0 && header.Size > h.config.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return Inspect(h.config, header.Filename, data)
}

// Inspect validates raw image bytes against config and builds the entry.
// The declared content type is ignored; the type is sniffed from the bytes.
func Inspect(config *UploadConfig, fileName string, data []byte) (*UploadEntry, error) {
	if config == nil {
		config = DefaultUploadConfig()
	}
	if config.MaxFileSize > 0 && int64(len(data)) > config.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	contentType := sniff(data)
	if !isAllowedType(config.Accept, contentType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, contentType)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	return &UploadEntry{
		UUID:        uuid.NewString(),
		FileName:    sanitizeFilename(fileName),
		Size:        int64(len(data)),
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
		DataURL:     export.DataURL(contentType, data),
		CreatedAt:   time.Now(),
	}, nil
}

// sniff detects the MIME type, adding WebP which http.DetectContentType
// reports only in recent releases.
func sniff(data []byte) string {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

func isAllowedType(accept []string, contentType string) bool {
	for _, allowed := range accept {
		if allowed == "*/*" {
			return true
		}
		if strings.HasSuffix(allowed, "/*") {
			prefix := strings.TrimSuffix(allowed, "*")
			if strings.HasPrefix(contentType, prefix) {
				return true
			}
		}
		if allowed == contentType {
			return true
		}
	}
	return false
}

func sanitizeFilename(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, "\\", "/"))

	filename = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '\x00' {
			return '_'
		}
		return r
	}, filename)

	if len(filename) > 255 {
		ext := filepath.Ext(filename)
		filename = filename[:255-len(ext)] + ext
	}

	return filename
}
