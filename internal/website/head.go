package website

import (
	"fmt"
	"html"
	"strings"

	"github.com/khattlab/khatt/pkg/router"
)

// RenderHead generates the <head> section. Styles are inline and carry the
// CSP nonce when one is set.
func RenderHead(cfg PageConfig, nonce, customCSS string) string {
	var sb strings.Builder

	themeColor := cfg.ThemeColor
	if themeColor == "" {
		themeColor = Colors["primary"]
	}

	sb.WriteString("<head>\n")

	sb.WriteString(`<meta charset="UTF-8">` + "\n")
	sb.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1.0">` + "\n")

	sb.WriteString(fmt.Sprintf("<title>%s</title>\n", html.EscapeString(cfg.Title)))

	// Theme color for mobile browsers
	sb.WriteString(fmt.Sprintf(`<meta name="theme-color" content="%s">`+"\n", html.EscapeString(themeColor)))

	if cfg.Favicon != "" {
		sb.WriteString(fmt.Sprintf(`<link rel="icon" href="%s">`+"\n", html.EscapeString(cfg.Favicon)))
	} else {
		sb.WriteString(`<link rel="icon" href="data:image/svg+xml,<svg xmlns='http://www.w3.org/2000/svg' viewBox='0 0 100 100'><text y='.9em' font-size='90'>خ</text></svg>">` + "\n")
	}

	sb.WriteString("<style" + nonceAttr(nonce) + ">\n")
	sb.WriteString(RenderStyles())
	if customCSS != "" {
		sb.WriteString("\n")
		sb.WriteString(customCSS)
	}
	sb.WriteString("\n</style>\n")

	sb.WriteString("</head>\n")

	return sb.String()
}

// RenderBody lays out the header, the control panel and the live region
// holding the first render.
func RenderBody(cfg PageConfig, p router.Page, panel string) string {
	var sb strings.Builder

	sb.WriteString(`<a href="#khatt-live" class="skip-link">Skip to preview</a>` + "\n")
	sb.WriteString(`<header class="topbar"><div class="container"><span class="logo">خط · Khatt</span></div></header>` + "\n")

	sb.WriteString(`<main class="container workspace">` + "\n")
	sb.WriteString(fmt.Sprintf(`<section id="%s" class="stage" aria-live="polite" data-live-path="%s" data-upload-path="%s">`,
		LiveRootID, html.EscapeString(p.Path), html.EscapeString(cfg.UploadPath)))
	sb.WriteString(p.Body)
	sb.WriteString("</section>\n")
	sb.WriteString(panel)
	sb.WriteString("</main>\n")

	sb.WriteString(`<div id="khatt-toasts" class="toasts" role="status" aria-live="polite"></div>` + "\n")
	sb.WriteString(fmt.Sprintf(`<script src="%s"%s defer></script>`+"\n", html.EscapeString(cfg.ScriptPath), nonceAttr(p.Nonce)))

	return sb.String()
}

// RenderDocument wraps content in a complete HTML document.
func RenderDocument(cfg PageConfig, nonce, customCSS, bodyContent string) string {
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="%s">
%s<body>
%s
</body>
</html>`, html.EscapeString(lang), RenderHead(cfg, nonce, customCSS), bodyContent)
}

func nonceAttr(nonce string) string {
	if nonce == "" {
		return ""
	}
	return ` nonce="` + html.EscapeString(nonce) + `"`
}
