package generator

import (
	"context"
	"errors"

	"github.com/khattlab/khatt/pkg/core"
	"github.com/khattlab/khatt/pkg/export"
	"github.com/khattlab/khatt/pkg/logging"
)

// Events pushed to the page. The page answers requests with a reply
// carrying the same ref.
const (
	EventRender    = "render"
	EventDownload  = "download"
	EventClipboard = "clipboard"
	EventCanShare  = "can_share"
	EventShare     = "share"
	EventNotify    = "notify"
)

// socketSurfaces delivers export artifacts to the page over the live
// socket. It implements every export surface.
type socketSurfaces struct {
	socket *core.Socket
	logger logging.Logger
}

var (
	_ export.Downloader = socketSurfaces{}
	_ export.Clipboard  = socketSurfaces{}
	_ export.Sharer     = socketSurfaces{}
	_ export.Notifier   = socketSurfaces{}
)

// Download pushes the file as a data URL. Blob files are turned into an
// object URL by the page, which revokes it once the download started.
func (s socketSurfaces) Download(_ context.Context, f export.File) error {
	return s.socket.Push(EventDownload, map[string]any{
		"name": f.Name,
		"mime": f.MIME,
		"href": export.DataURL(f.MIME, f.Data),
		"blob": f.Blob,
	})
}

func (s socketSurfaces) WriteImage(ctx context.Context, mime string, data []byte) error {
	_, err := s.socket.Request(ctx, EventClipboard, map[string]any{
		"mime":     mime,
		"data_url": export.DataURL(mime, data),
	})
	return platformError(err)
}

// CanShare asks whether the platform accepts the files. Only names and
// types travel; any failure counts as "no".
func (s socketSurfaces) CanShare(ctx context.Context, d export.ShareData) bool {
	files := make([]map[string]any, len(d.Files))
	for i, f := range d.Files {
		files[i] = map[string]any{"name": f.Name, "mime": f.MIME}
	}
	resp, err := s.socket.Request(ctx, EventCanShare, map[string]any{"files": files})
	if err != nil {
		s.logger.Debug("can_share failed", logging.Err(err))
		return false
	}
	ok, _ := resp["can_share"].(bool)
	return ok
}

func (s socketSurfaces) Share(ctx context.Context, d export.ShareData) error {
	files := make([]map[string]any, len(d.Files))
	for i, f := range d.Files {
		files[i] = map[string]any{
			"name":     f.Name,
			"mime":     f.MIME,
			"data_url": export.DataURL(f.MIME, f.Data),
		}
	}
	_, err := s.socket.Request(ctx, EventShare, map[string]any{
		"title": d.Title,
		"text":  d.Text,
		"files": files,
	})
	return platformError(err)
}

func (s socketSurfaces) Notify(level export.Level, message string) {
	err := s.socket.Push(EventNotify, map[string]any{
		"level":   string(level),
		"message": message,
	})
	if err != nil {
		s.logger.Debug("notify dropped", logging.String("message", message), logging.Err(err))
	}
}

// platformError keeps the browser's error name so share cancellation can
// be recognised downstream.
func platformError(err error) error {
	var re *core.ReplyError
	if errors.As(err, &re) {
		return &export.PlatformError{Name: re.Name, Message: re.Reason}
	}
	return err
}
