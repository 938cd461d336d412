// Package website renders the page shell around the generator: head, inline
// styles, the control panel and the live region the client script drives.
// Everything is plain Go string building with no external CSS framework.
package website

import (
	"io"

	"github.com/khattlab/khatt/pkg/fonts"
	"github.com/khattlab/khatt/pkg/preview"
	"github.com/khattlab/khatt/pkg/router"
)

// PageConfig defines the document-level settings of the page.
type PageConfig struct {
	// Title is the page title (shown in the browser tab)
	Title string
	// Language is the page language (default: "en")
	Language string
	// ThemeColor is the mobile browser theme color
	ThemeColor string
	// Favicon is the path to the favicon
	Favicon string
	// ScriptPath is where the client script is served (default: "/static/khatt.js")
	ScriptPath string
	// UploadPath is the background upload endpoint (default: "/upload/background")
	UploadPath string
}

// DefaultPageConfig returns a PageConfig with sensible defaults.
func DefaultPageConfig() PageConfig {
	return PageConfig{
		Title:      "Arabic Calligraphy Generator",
		Language:   "en",
		ThemeColor: Colors["primary"],
		ScriptPath: "/static/khatt.js",
		UploadPath: "/upload/background",
	}
}

func (cfg PageConfig) withDefaults() PageConfig {
	def := DefaultPageConfig()
	if cfg.Title == "" {
		cfg.Title = def.Title
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.ThemeColor == "" {
		cfg.ThemeColor = def.ThemeColor
	}
	if cfg.ScriptPath == "" {
		cfg.ScriptPath = def.ScriptPath
	}
	if cfg.UploadPath == "" {
		cfg.UploadPath = def.UploadPath
	}
	return cfg
}

// LiveRootID is the element whose contents the client replaces on every
// render push.
const LiveRootID = "khatt-live"

// Layout returns the router layout hosting the generator. The panel lists
// the given fonts and background patterns.
func Layout(cfg PageConfig, fontList []fonts.Font, patterns []*preview.Pattern) router.Layout {
	cfg = cfg.withDefaults()
	panel := RenderControls(fontList, patterns)

	return func(w io.Writer, p router.Page) error {
		body := RenderBody(cfg, p, panel)
		_, err := io.WriteString(w, RenderDocument(cfg, p.Nonce, "", body))
		return err
	}
}
