package report

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dgallion1/drawcheck/internal/layout"
)

// Pdftoppm rasterizes single pages with poppler's pdftoppm.
type Pdftoppm struct {
	Bin string
}

func NewPdftoppm() *Pdftoppm { return &Pdftoppm{Bin: "pdftoppm"} }

// Available reports whether the binary is on PATH.
func (p *Pdftoppm) Available() bool {
	_, err := exec.LookPath(p.bin())
	return err == nil
}

func (p *Pdftoppm) bin() string {
	if p.Bin == "" {
		return "pdftoppm"
	}
	return p.Bin
}

// Rasterize renders one 1-based page as PNG at dpi.
func (p *Pdftoppm) Rasterize(ctx context.Context, pdf []byte, page, dpi int) ([]byte, error) {
	if len(pdf) == 0 {
		return nil, layout.ErrEmptyDocument
	}
	dir, err := os.MkdirTemp("", "drawcheck-raster-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, p.bin(),
		"-f", fmt.Sprint(page), "-l", fmt.Sprint(page),
		"-r", fmt.Sprint(dpi), "-png", "-singlefile", in, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, bytes.TrimSpace(out))
	}
	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read raster: %w", err)
	}
	return data, nil
}

// displaySize is the page size in pixels after applying /Rotate.
func displaySize(p *layout.Page, dpi int) (int, int) {
	k := float64(dpi) / 72
	w, h := p.Width, p.Height
	if p.Rotate == 90 || p.Rotate == 270 {
		w, h = h, w
	}
	return int(math.Round(w * k)), int(math.Round(h * k))
}

// BlankPage is a white canvas with the page's displayed geometry, used when
// no rasterizer is available.
func BlankPage(p *layout.Page, dpi int) *image.RGBA {
	w, h := displaySize(p, dpi)
	img := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

// EncodePNG encodes an image with default compression.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
