package website

import (
	"fmt"
	"sort"
	"strings"
)

// Color palette for the workspace chrome. The preview itself is painted
// from the style options and ignores these.
var Colors = map[string]string{
	// Backgrounds
	"bg":      "#F7F3EA", // Parchment - main background
	"bgAlt":   "#FFFFFF", // Panels
	"bgHover": "#EFE7D6", // Hover states

	// Text (4.5:1 minimum on bg)
	"text":      "#2B2118",
	"textMuted": "#5C4A36",

	// Brand
	"primary":       "#8B5A2B", // Walnut ink
	"primaryBright": "#A8733F",
	"accent":        "#D4AF37", // Gold leaf

	// Status colors, used by toasts
	"success": "#2F7D4A",
	"warning": "#9A6A00",
	"danger":  "#B3261E",
	"info":    "#2C5D8F",

	// Borders
	"border":      "#DCCFB8",
	"borderLight": "#E9DFCC",
}

// FontFamily is the UI font stack. Calligraphy fonts are loaded by the
// preview, not by the chrome.
var FontFamily = `system-ui, -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif`

// StyleOption allows customizing the generated CSS
type StyleOption func(*styleConfig)

type styleConfig struct {
	customColors map[string]string
	includeReset bool
}

// WithCustomColors overrides default colors
func WithCustomColors(colors map[string]string) StyleOption {
	return func(cfg *styleConfig) {
		for k, v := range colors {
			cfg.customColors[k] = v
		}
	}
}

// WithReset includes a CSS reset
func WithReset(include bool) StyleOption {
	return func(cfg *styleConfig) {
		cfg.includeReset = include
	}
}

// RenderStyles generates the CSS for the generator page.
func RenderStyles(opts ...StyleOption) string {
	cfg := &styleConfig{
		customColors: make(map[string]string),
		includeReset: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	colors := make(map[string]string, len(Colors))
	for k, v := range Colors {
		colors[k] = v
	}
	for k, v := range cfg.customColors {
		colors[k] = v
	}

	var sb strings.Builder

	if cfg.includeReset {
		sb.WriteString(cssReset())
	}
	sb.WriteString(cssVariables(colors))
	sb.WriteString(cssBase())
	sb.WriteString(cssLayout())
	sb.WriteString(cssPanel())
	sb.WriteString(cssButtons())
	sb.WriteString(cssToasts())
	sb.WriteString(cssAccessibility())
	sb.WriteString(cssResponsive())

	return sb.String()
}

func cssReset() string {
	return `
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
html{-webkit-text-size-adjust:100%}
body{line-height:1.5;-webkit-font-smoothing:antialiased}
img,picture,canvas,svg{display:block;max-width:100%}
input,button,textarea,select{font:inherit}
`
}

// cssVariables emits the palette sorted by name so the output is stable.
func cssVariables(colors map[string]string) string {
	names := make([]string, 0, len(colors))
	for name := range colors {
		names = append(names, name)
	}
	sort.Strings(names)

	vars := make([]string, 0, len(names))
	for _, name := range names {
		vars = append(vars, fmt.Sprintf("--color-%s:%s", name, colors[name]))
	}
	return fmt.Sprintf(":root{%s;--font-sans:%s}\n", strings.Join(vars, ";"), FontFamily)
}

func cssBase() string {
	return `
body{font-family:var(--font-sans);background:var(--color-bg);color:var(--color-text);min-height:100vh}
::selection{background:var(--color-accent);color:var(--color-text)}
`
}

func cssLayout() string {
	// Mobile-first: preview above the panel
	return `
.container{width:100%;max-width:1280px;margin:0 auto;padding:0 1rem}
.topbar{padding:0.75rem 0;border-bottom:1px solid var(--color-border);background:var(--color-bgAlt)}
.logo{font-size:1.25rem;font-weight:800;color:var(--color-primary)}
.workspace{display:grid;grid-template-columns:1fr;gap:1rem;padding-top:1rem;padding-bottom:2rem}
.stage{display:flex;align-items:flex-start;justify-content:center;min-height:12rem;overflow:auto}
`
}

func cssPanel() string {
	return `
.panel{background:var(--color-bgAlt);border:1px solid var(--color-border);border-radius:0.75rem;padding:1rem;display:flex;flex-direction:column;gap:1rem}
.panel fieldset{border:none;display:grid;gap:0.5rem}
.panel legend{font-weight:700;font-size:0.875rem;color:var(--color-primary);margin-bottom:0.25rem}
.field{display:grid;grid-template-columns:8rem 1fr;align-items:center;gap:0.5rem;font-size:0.875rem}
.field label{color:var(--color-textMuted)}
.field input[type=range]{width:100%}
.field input[type=color]{width:3rem;height:2rem;border:1px solid var(--color-border);border-radius:0.25rem;background:none}
.field select,.field input[type=text],.field textarea{width:100%;padding:0.375rem 0.5rem;border:1px solid var(--color-border);border-radius:0.375rem;background:var(--color-bg)}
.field textarea{min-height:4.5rem;resize:vertical;direction:rtl}
.field output{font-variant-numeric:tabular-nums;color:var(--color-textMuted)}
.toggle{display:flex;align-items:center;gap:0.5rem;font-size:0.875rem}
.actions{display:flex;flex-wrap:wrap;gap:0.5rem}
`
}

func cssButtons() string {
	// 44px minimum tap target (2.75rem)
	return `
.btn{display:inline-flex;align-items:center;justify-content:center;gap:0.5rem;padding:0.5rem 1rem;font-weight:600;border-radius:0.5rem;border:1px solid transparent;cursor:pointer;min-height:2.75rem;transition:background 0.15s ease}
.btn:focus-visible{outline:2px solid var(--color-primary);outline-offset:2px}
.btn-primary{background:var(--color-primary);color:#FFFFFF}
.btn-primary:hover{background:var(--color-primaryBright)}
.btn-secondary{background:transparent;color:var(--color-text);border-color:var(--color-border)}
.btn-secondary:hover{background:var(--color-bgHover)}
.btn[disabled]{opacity:0.5;cursor:not-allowed}
`
}

func cssToasts() string {
	return `
.toasts{position:fixed;bottom:1rem;right:1rem;display:flex;flex-direction:column;gap:0.5rem;z-index:1000}
.toast{padding:0.75rem 1rem;border-radius:0.5rem;color:#FFFFFF;background:var(--color-info);box-shadow:0 4px 16px rgba(0,0,0,0.15);max-width:22rem}
.toast-success{background:var(--color-success)}
.toast-warning{background:var(--color-warning)}
.toast-error{background:var(--color-danger)}
@media(prefers-reduced-motion:no-preference){.toast{animation:toastIn 0.2s ease}}
@keyframes toastIn{from{opacity:0;transform:translateY(8px)}to{opacity:1;transform:none}}
`
}

func cssAccessibility() string {
	return `
.sr-only{position:absolute;width:1px;height:1px;padding:0;margin:-1px;overflow:hidden;clip:rect(0,0,0,0);white-space:nowrap;border:0}
.skip-link{position:absolute;top:-40px;left:0;background:var(--color-primary);color:#FFFFFF;padding:0.5rem 1rem;z-index:1000;font-weight:600}
.skip-link:focus{top:0}
:focus-visible{outline:2px solid var(--color-primary);outline-offset:2px}
`
}

func cssResponsive() string {
	return `
@media(min-width:1024px){
.workspace{grid-template-columns:1fr 24rem;align-items:start}
.panel{position:sticky;top:1rem;max-height:calc(100vh - 2rem);overflow:auto}
}
`
}
