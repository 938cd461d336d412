package export

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"time"

	"github.com/khattlab/khatt/pkg/snapshot"
	"github.com/khattlab/khatt/pkg/style"
)

// FilePrefix starts every exported file name.
const FilePrefix = "arabic-calligraphy"

// FileName returns "arabic-calligraphy-{epoch ms}.{ext}".
func FileName(now time.Time, ext string) string {
	return FilePrefix + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "." + ext
}

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no bitmap", ErrEncodingFailed)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrEncodingFailed)
	}
	return buf.Bytes(), nil
}

// DataURL returns data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// BuildSVG wraps an encoded PNG in a fixed-size SVG document: a background
// rect, the bitmap as one image and the source text as a hidden node.
// The document is sized to the logical preview, not the bitmap.
func BuildSVG(snap *snapshot.Snapshot, o style.Options, pngData []byte) []byte {
	w := formatLength(snap.LogicalWidth)
	h := formatLength(snap.LogicalHeight)
	href := DataURL("image/png", pngData)

	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" width="%s" height="%s" viewBox="0 0 %s %s">`+"\n", w, h, w, h)
	fmt.Fprintf(&b, `  <rect x="0" y="0" width="%s" height="%s" fill="%s"/>`+"\n", w, h, escapeXML(o.BackgroundColor))
	fmt.Fprintf(&b, `  <image x="0" y="0" width="%s" height="%s" xlink:href="%s"/>`+"\n", w, h, href)
	fmt.Fprintf(&b, `  <text x="0" y="0" font-size="0" visibility="hidden">%s</text>`+"\n", escapeXML(o.Text))
	b.WriteString("</svg>\n")
	return b.Bytes()
}

// escapeXML escapes s for element text and attribute values. Characters XML
// cannot carry, such as control bytes and invalid UTF-8, become U+FFFD.
func escapeXML(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

func formatLength(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
