package export

import (
	"errors"
	"fmt"

	"github.com/khattlab/khatt/pkg/snapshot"
)

// Export errors. The rasterizer errors are re-exported so callers only
// need this package to classify failures.
var (
	ErrPreviewUnavailable   = snapshot.ErrPreviewUnavailable
	ErrRasterizationFailed  = snapshot.ErrRasterizationFailed
	ErrEncodingFailed       = errors.New("image encoding failed")
	ErrClipboardWriteFailed = errors.New("clipboard write failed")
	ErrShareFailed          = errors.New("share failed")
	ErrShareCancelled       = errors.New("share cancelled")
)

// PlatformError is a rejection reported by a browser surface, named the
// way the platform names it (for example "NotAllowedError").
type PlatformError struct {
	Name    string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// IsCancelled reports whether err means the user dismissed a share sheet.
func IsCancelled(err error) bool {
	if errors.Is(err, ErrShareCancelled) {
		return true
	}
	var pe *PlatformError
	return errors.As(err, &pe) && pe.Name == "AbortError"
}

// Category groups failures for user-facing messages.
type Category string

const (
	CategoryNone        Category = ""
	CategoryPreview     Category = "preview_unavailable"
	CategoryRasterize   Category = "rasterization_failed"
	CategoryEncoding    Category = "encoding_failed"
	CategoryClipboard   Category = "clipboard_write_failed"
	CategoryShare       Category = "share_failed"
	CategoryCancelled   Category = "share_cancelled"
	CategoryUnavailable Category = "surface_unavailable"
	CategoryUnknown     Category = "unknown"
)

var messages = map[Category]string{
	CategoryPreview:     "The preview is not ready yet. Please try again.",
	CategoryRasterize:   "Could not render the image.",
	CategoryEncoding:    "Could not encode the image.",
	CategoryClipboard:   "Could not copy the image. Check clipboard permissions.",
	CategoryShare:       "Could not share the image.",
	CategoryUnavailable: "This action is not available here.",
	CategoryUnknown:     "Export failed.",
}

// Classify maps err onto a category and the message shown to the user.
// A cancelled share has no message.
func Classify(err error) (Category, string) {
	var c Category
	switch {
	case err == nil:
		return CategoryNone, ""
	case IsCancelled(err):
		return CategoryCancelled, ""
	case errors.Is(err, ErrPreviewUnavailable):
		c = CategoryPreview
	case errors.Is(err, ErrRasterizationFailed):
		c = CategoryRasterize
	case errors.Is(err, ErrEncodingFailed):
		c = CategoryEncoding
	case errors.Is(err, ErrClipboardWriteFailed):
		c = CategoryClipboard
	case errors.Is(err, ErrShareFailed):
		c = CategoryShare
	case errors.Is(err, ErrSurfaceUnavailable):
		c = CategoryUnavailable
	default:
		c = CategoryUnknown
	}
	return c, messages[c]
}
