package export

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/khattlab/khatt/pkg/analytics"
	"github.com/khattlab/khatt/pkg/dom"
	"github.com/khattlab/khatt/pkg/snapshot"
	"github.com/khattlab/khatt/pkg/style"
)

type fakeRaster struct {
	scales []float64
	err    error
	mu     sync.Mutex
}

func (f *fakeRaster) Rasterize(_ context.Context, ref *dom.Element, _ style.Options, scale float64) (*snapshot.Snapshot, error) {
	f.mu.Lock()
	f.scales = append(f.scales, scale)
	f.mu.Unlock()
	if ref == nil {
		return nil, snapshot.ErrPreviewUnavailable
	}
	if f.err != nil {
		return nil, f.err
	}
	w, h := int(300*scale), int(200*scale)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i++ {
		img.Pix[i] = 255
	}
	return &snapshot.Snapshot{Image: img, Width: w, Height: h, LogicalWidth: 300, LogicalHeight: 200, Scale: scale}, nil
}

type fakePreview struct{ el *dom.Element }

func (p fakePreview) Element() *dom.Element { return p.el }

type notes struct {
	mu    sync.Mutex
	items []string
}

func (n *notes) Notify(level Level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, string(level)+":"+msg)
}

func (n *notes) count(level Level) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, it := range n.items {
		if strings.HasPrefix(it, string(level)+":") {
			c++
		}
	}
	return c
}

type memDownloader struct {
	files []File
}

func (d *memDownloader) Download(_ context.Context, f File) error {
	d.files = append(d.files, f)
	return nil
}

type fakeClipboard struct {
	err  error
	data []byte
}

func (c *fakeClipboard) WriteImage(_ context.Context, _ string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.data = data
	return nil
}

type fakeSharer struct {
	canFiles bool
	err      error
	shared   []ShareData
}

func (s *fakeSharer) CanShare(_ context.Context, d ShareData) bool {
	return s.canFiles || len(d.Files) == 0
}

func (s *fakeSharer) Share(_ context.Context, d ShareData) error {
	s.shared = append(s.shared, d)
	return s.err
}

var fixedNow = time.UnixMilli(1700000000123)

func newExporter(r Rasterizer, opts ...Option) (*Exporter, *notes, *analytics.Recorder) {
	n := &notes{}
	rec := analytics.NewRecorder()
	base := []Option{WithNotifier(n), WithSink(rec), WithClock(func() time.Time { return fixedNow })}
	return New(r, fakePreview{el: dom.NewElement("div")}, append(base, opts...)...), n, rec
}

func TestExportPNG(t *testing.T) {
	r := &fakeRaster{}
	d := &memDownloader{}
	e, n, rec := newExporter(r, WithDownloader(d))

	if err := e.ExportPNG(context.Background(), style.Defaults()); err != nil {
		t.Fatalf("ExportPNG() error = %v", err)
	}
	if r.scales[0] != PNGScale {
		t.Errorf("scale = %v, want %v", r.scales[0], PNGScale)
	}
	if len(d.files) != 1 {
		t.Fatalf("downloads = %d", len(d.files))
	}
	f := d.files[0]
	if f.Name != "arabic-calligraphy-1700000000123.png" || f.MIME != "image/png" || f.Blob {
		t.Errorf("file = %s %s blob=%v", f.Name, f.MIME, f.Blob)
	}
	img, err := png.Decode(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1200 || b.Dy() != 800 {
		t.Errorf("bounds = %v", b)
	}
	if c := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("corner = %v", c)
	}
	if got := rec.Names(); len(got) != 1 || got[0] != analytics.EventExportPNG {
		t.Errorf("events = %v", got)
	}
	if n.count(LevelError) != 0 || n.count(LevelSuccess) != 1 {
		t.Errorf("notifications = %v", n.items)
	}
}

func TestExportSVG(t *testing.T) {
	r := &fakeRaster{}
	d := &memDownloader{}
	e, _, _ := newExporter(r, WithDownloader(d))
	o := style.Defaults()
	o.Text = `سطر <"&">`

	if err := e.ExportSVG(context.Background(), o); err != nil {
		t.Fatalf("ExportSVG() error = %v", err)
	}
	if r.scales[0] != SVGScale {
		t.Errorf("scale = %v", r.scales[0])
	}
	f := d.files[0]
	if !strings.HasSuffix(f.Name, ".svg") || !f.Blob {
		t.Errorf("file = %s blob=%v", f.Name, f.Blob)
	}
	if !bytes.HasPrefix(f.Data, []byte(`<?xml version="1.0" encoding="UTF-8"?>`)) {
		t.Error("missing XML prolog")
	}

	type node struct {
		name  string
		attrs map[string]string
		text  string
	}
	var nodes []node
	dec := xml.NewDecoder(bytes.NewReader(f.Data))
	var cur *node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("xml: %v", err)
		}
		switch tk := tok.(type) {
		case xml.StartElement:
			nd := node{name: tk.Name.Local, attrs: map[string]string{}}
			for _, a := range tk.Attr {
				nd.attrs[a.Name.Local] = a.Value
			}
			nodes = append(nodes, nd)
			cur = &nodes[len(nodes)-1]
		case xml.CharData:
			if cur != nil {
				cur.text += string(tk)
			}
		case xml.EndElement:
			cur = nil
		}
	}

	counts := map[string]int{}
	for _, nd := range nodes {
		counts[nd.name]++
	}
	if counts["svg"] != 1 || counts["image"] != 1 || counts["text"] != 1 || counts["rect"] != 1 {
		t.Errorf("element counts = %v", counts)
	}
	root := nodes[0]
	if root.name != "svg" || root.attrs["width"] != "300" || root.attrs["height"] != "200" || root.attrs["viewBox"] != "0 0 300 200" {
		t.Errorf("root = %+v", root)
	}
	for _, nd := range nodes {
		switch nd.name {
		case "rect":
			if nd.attrs["fill"] != o.BackgroundColor {
				t.Errorf("rect fill = %q", nd.attrs["fill"])
			}
		case "image":
			if !strings.HasPrefix(nd.attrs["href"], "data:image/png;base64,") {
				t.Errorf("image href = %.40q", nd.attrs["href"])
			}
		case "text":
			if nd.attrs["visibility"] != "hidden" || nd.attrs["font-size"] != "0" {
				t.Errorf("text attrs = %v", nd.attrs)
			}
			if nd.text != o.Text {
				t.Errorf("text = %q, want %q", nd.text, o.Text)
			}
		}
	}
}

func TestBuildSVG_Escaping(t *testing.T) {
	snap := &snapshot.Snapshot{LogicalWidth: 300, LogicalHeight: 200}
	tests := []struct {
		name     string
		text     string
		fill     string
		wantText string
		wantFill string
	}{
		{"control byte", "سلام\x01عليكم", "#fff", "سلام\uFFFDعليكم", "#fff"},
		{"invalid utf-8", "bad\xff", "#fff", "bad\uFFFD", "#fff"},
		{"crlf", "a\r\nb", "#fff", "a\r\nb", "#fff"},
		{"attribute breakout", "x", `#fff" onload="alert(1)`, "x", `#fff" onload="alert(1)`},
		{"control in fill", "x", "#fff\x02", "x", "#fff\uFFFD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := style.Defaults()
			o.Text = tt.text
			o.BackgroundColor = tt.fill

			var doc struct {
				Rect struct {
					Fill string `xml:"fill,attr"`
				} `xml:"rect"`
				Text string `xml:"text"`
			}
			data := BuildSVG(snap, o, []byte{0x89})
			if err := xml.Unmarshal(data, &doc); err != nil {
				t.Fatalf("xml.Unmarshal() error = %v\n%s", err, data)
			}
			if doc.Text != tt.wantText {
				t.Errorf("text = %q, want %q", doc.Text, tt.wantText)
			}
			if doc.Rect.Fill != tt.wantFill {
				t.Errorf("fill = %q, want %q", doc.Rect.Fill, tt.wantFill)
			}
		})
	}
}

func TestCopyImage(t *testing.T) {
	r := &fakeRaster{}
	c := &fakeClipboard{}
	e, n, rec := newExporter(r, WithClipboard(c))
	if err := e.CopyImage(context.Background(), style.Defaults()); err != nil {
		t.Fatalf("CopyImage() error = %v", err)
	}
	if r.scales[0] != ClipboardScale {
		t.Errorf("scale = %v", r.scales[0])
	}
	if len(c.data) == 0 {
		t.Error("clipboard empty")
	}
	if rec.Names()[0] != analytics.EventCopyImage || n.count(LevelSuccess) != 1 {
		t.Errorf("events = %v, notes = %v", rec.Names(), n.items)
	}
}

func TestCopyImage_Rejected(t *testing.T) {
	c := &fakeClipboard{err: &PlatformError{Name: "NotAllowedError"}}
	e, n, rec := newExporter(&fakeRaster{}, WithClipboard(c))
	err := e.CopyImage(context.Background(), style.Defaults())
	if !errors.Is(err, ErrClipboardWriteFailed) {
		t.Fatalf("err = %v, want ErrClipboardWriteFailed", err)
	}
	if errors.Is(err, ErrRasterizationFailed) {
		t.Error("clipboard failure reported as rasterization failure")
	}
	if n.count(LevelError) != 1 {
		t.Errorf("error notifications = %d, want 1", n.count(LevelError))
	}
	if got := rec.Events()[0].Props["category"]; got != string(CategoryClipboard) {
		t.Errorf("category = %v", got)
	}
}

func TestShare(t *testing.T) {
	tests := []struct {
		name      string
		sharer    *fakeSharer
		wantErr   error
		wantFiles int
		warnings  int
		errors    int
		result    string
	}{
		{"with file", &fakeSharer{canFiles: true}, nil, 1, 0, 0, "success"},
		{"text only", &fakeSharer{canFiles: false}, nil, 0, 1, 0, "success"},
		{"cancelled", &fakeSharer{canFiles: true, err: &PlatformError{Name: "AbortError"}}, nil, 1, 0, 0, "cancelled"},
		{"cancelled sentinel", &fakeSharer{canFiles: true, err: ErrShareCancelled}, nil, 1, 0, 0, "cancelled"},
		{"failed", &fakeSharer{canFiles: true, err: errors.New("boom")}, ErrShareFailed, 1, 0, 1, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRaster{}
			e, n, rec := newExporter(r, WithSharer(tt.sharer))
			err := e.Share(context.Background(), style.Defaults())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Share() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Share() error = %v, want %v", err, tt.wantErr)
			}
			if r.scales[0] != ShareScale {
				t.Errorf("scale = %v", r.scales[0])
			}
			if len(tt.sharer.shared) != 1 {
				t.Fatalf("share calls = %d", len(tt.sharer.shared))
			}
			d := tt.sharer.shared[0]
			if len(d.Files) != tt.wantFiles || d.Title != ShareTitle {
				t.Errorf("share data = %d files, title %q", len(d.Files), d.Title)
			}
			if n.count(LevelWarning) != tt.warnings || n.count(LevelError) != tt.errors {
				t.Errorf("notifications = %v", n.items)
			}
			if got := rec.Events()[0].Props["result"]; got != tt.result {
				t.Errorf("result = %v, want %v", got, tt.result)
			}
		})
	}
}

func TestRasterFailureNotifiesOnce(t *testing.T) {
	r := &fakeRaster{err: errors.Join(snapshot.ErrRasterizationFailed, errors.New("paint"))}
	d := &memDownloader{}
	e, n, _ := newExporter(r, WithDownloader(d))
	err := e.ExportPNG(context.Background(), style.Defaults())
	if !errors.Is(err, ErrRasterizationFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(d.files) != 0 {
		t.Error("partial file produced")
	}
	if len(n.items) != 1 || n.count(LevelError) != 1 {
		t.Errorf("notifications = %v", n.items)
	}
}

func TestPreviewUnavailable(t *testing.T) {
	n := &notes{}
	e := New(&fakeRaster{}, fakePreview{}, WithDownloader(&memDownloader{}), WithNotifier(n))
	err := e.ExportPNG(context.Background(), style.Defaults())
	if !errors.Is(err, ErrPreviewUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if cat, _ := Classify(err); cat != CategoryPreview {
		t.Errorf("category = %v", cat)
	}
}

func TestSurfaceUnavailable(t *testing.T) {
	e, n, _ := newExporter(&fakeRaster{})
	if err := e.CopyImage(context.Background(), style.Defaults()); !errors.Is(err, ErrSurfaceUnavailable) {
		t.Errorf("err = %v", err)
	}
	if n.count(LevelError) != 1 {
		t.Errorf("notifications = %v", n.items)
	}
}

type blockingRaster struct {
	fakeRaster
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRaster) Rasterize(ctx context.Context, ref *dom.Element, o style.Options, scale float64) (*snapshot.Snapshot, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeRaster.Rasterize(ctx, ref, o, scale)
}

func TestSingleFlight(t *testing.T) {
	r := &blockingRaster{entered: make(chan struct{}, 2), release: make(chan struct{})}
	d := &memDownloader{}
	e, _, _ := newExporter(r, WithDownloader(d), WithSingleFlight(true))

	done := make(chan error, 1)
	go func() { done <- e.ExportPNG(context.Background(), style.Defaults()) }()
	<-r.entered

	if err := e.ExportPNG(context.Background(), style.Defaults()); err != nil {
		t.Errorf("second trigger error = %v", err)
	}
	close(r.release)
	if err := <-done; err != nil {
		t.Fatalf("first trigger error = %v", err)
	}
	if len(d.files) != 1 {
		t.Errorf("downloads = %d, want 1", len(d.files))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{nil, CategoryNone},
		{ErrEncodingFailed, CategoryEncoding},
		{&PlatformError{Name: "AbortError"}, CategoryCancelled},
		{errors.New("x"), CategoryUnknown},
	}
	for _, tt := range tests {
		if got, _ := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if _, msg := Classify(ErrShareCancelled); msg != "" {
		t.Errorf("cancel message = %q, want none", msg)
	}
}

func TestFileName(t *testing.T) {
	if got := FileName(fixedNow, "png"); got != "arabic-calligraphy-1700000000123.png" {
		t.Errorf("FileName() = %q", got)
	}
}
