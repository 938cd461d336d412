package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// ErrSurfaceUnavailable is returned when no surface is wired for an action.
var ErrSurfaceUnavailable = errors.New("surface unavailable")

// File is an artifact handed to a surface.
type File struct {
	Name string
	MIME string
	Data []byte
	// Blob asks the client to deliver through an object URL it revokes
	// after the download starts, instead of a data URL.
	Blob bool
}

// Downloader saves a file for the user.
type Downloader interface {
	Download(ctx context.Context, f File) error
}

// Clipboard writes an image item to the system clipboard.
type Clipboard interface {
	WriteImage(ctx context.Context, mime string, data []byte) error
}

// ShareData is the payload of a share sheet.
type ShareData struct {
	Title string
	Text  string
	Files []File
}

// Sharer opens the platform share sheet.
type Sharer interface {
	CanShare(ctx context.Context, d ShareData) bool
	Share(ctx context.Context, d ShareData) error
}

// Level is the severity of a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier shows a short message to the user.
type Notifier interface {
	Notify(level Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level Level, message string)

func (f NotifierFunc) Notify(level Level, message string) { f(level, message) }

// DirDownloader writes downloads into a directory. It serves the offline
// render command.
type DirDownloader struct {
	Dir string

	mu    sync.Mutex
	paths []string
}

// Download writes f under Dir.
func (d *DirDownloader) Download(_ context.Context, f File) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(d.Dir, filepath.Base(f.Name))
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		return err
	}
	d.mu.Lock()
	d.paths = append(d.paths, path)
	d.mu.Unlock()
	return nil
}

// Paths lists the files written so far.
func (d *DirDownloader) Paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}
