// Package compose places cut-out item images onto template backgrounds to
// produce cover thumbnails.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// Anchor names where the item sits on the template.
type Anchor string

// Supported anchors. Unknown anchors behave as AnchorCenter.
const (
	AnchorCenter      Anchor = "center"
	AnchorTop         Anchor = "top"
	AnchorBottom      Anchor = "bottom"
	AnchorLeft        Anchor = "left"
	AnchorRight       Anchor = "right"
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
)

// Anchors lists every supported anchor.
var Anchors = []Anchor{
	AnchorCenter, AnchorTop, AnchorBottom, AnchorLeft, AnchorRight,
	AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight,
}

// Shadow describes a drop shadow. Offsets are fractions of the template size.
type Shadow struct {
	Blur    float64
	Alpha   uint8
	OffsetX float64
	OffsetY float64
}

// ShadowPresets are the shadows selectable by name.
var ShadowPresets = map[string]Shadow{
	"off":    {},
	"light":  {Blur: 6, Alpha: 100, OffsetX: 0.006, OffsetY: 0.006},
	"medium": {Blur: 14, Alpha: 160, OffsetX: 0.012, OffsetY: 0.012},
	"strong": {Blur: 24, Alpha: 220, OffsetX: 0.018, OffsetY: 0.018},
}

// Output formats.
const (
	FormatJPEG = "JPEG"
	FormatPNG  = "PNG"
)

// DefaultQuality is the JPEG quality used when none is given.
const DefaultQuality = 92

// Options controls a single composition.
type Options struct {
	Anchor      Anchor
	ResizeRatio float64
	Shadow      string
	Format      string
	Quality     int
}

// DefaultOptions centres the item at its own size without a shadow and
// writes JPEG.
func DefaultOptions() Options {
	return Options{Anchor: AnchorCenter, ResizeRatio: 1, Shadow: "off", Format: FormatJPEG, Quality: DefaultQuality}
}

// Ext returns the file extension for the output format.
func (o Options) Ext() string {
	if strings.EqualFold(o.Format, FormatPNG) {
		return "png"
	}
	return "jpg"
}

// EnsureRGBA returns img as non-premultiplied RGBA.
func EnsureRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	return imaging.Clone(img)
}

// HasUsefulAlpha reports whether img carries transparency worth compositing:
// neither fully opaque nor fully transparent.
func HasUsefulAlpha(img image.Image) bool {
	n := EnsureRGBA(img)
	b := n.Bounds()
	if b.Empty() {
		return false
	}
	lo, hi := uint8(255), uint8(0)
	for y := 0; y < b.Dy(); y++ {
		row := n.Pix[y*n.Stride : y*n.Stride+b.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			a := row[i]
			lo = min(lo, a)
			hi = max(hi, a)
		}
	}
	return !(lo == 255 && hi == 255) && !(lo == 0 && hi == 0)
}

// Position returns the top-left corner for an item of size fg placed on a
// background of size bg.
func Position(bg, fg image.Point, anchor Anchor) image.Point {
	cx, cy := (bg.X-fg.X)/2, (bg.Y-fg.Y)/2
	switch anchor {
	case AnchorTop:
		return image.Pt(cx, 0)
	case AnchorBottom:
		return image.Pt(cx, bg.Y-fg.Y)
	case AnchorLeft:
		return image.Pt(0, cy)
	case AnchorRight:
		return image.Pt(bg.X-fg.X, cy)
	case AnchorTopLeft:
		return image.Pt(0, 0)
	case AnchorTopRight:
		return image.Pt(bg.X-fg.X, 0)
	case AnchorBottomLeft:
		return image.Pt(0, bg.Y-fg.Y)
	case AnchorBottomRight:
		return image.Pt(bg.X-fg.X, bg.Y-fg.Y)
	}
	return image.Pt(cx, cy)
}

// Render composites item over template: the optional shadow first, then
// the item.
func Render(item, template image.Image, opts Options) *image.NRGBA {
	fg := EnsureRGBA(item)
	canvas := imaging.Clone(template)

	ratio := opts.ResizeRatio
	if ratio <= 0 {
		ratio = 1
	}
	if ratio != 1 {
		w := max(1, int(float64(fg.Bounds().Dx())*ratio))
		h := max(1, int(float64(fg.Bounds().Dy())*ratio))
		fg = imaging.Resize(fg, w, h, imaging.Lanczos)
	}

	pos := Position(canvas.Bounds().Size(), fg.Bounds().Size(), opts.Anchor)

	if s, ok := ShadowPresets[opts.Shadow]; ok && s.Alpha > 0 {
		shadow := shadowOf(fg, s)
		dx := int(float64(canvas.Bounds().Dx()) * s.OffsetX)
		dy := int(float64(canvas.Bounds().Dy()) * s.OffsetY)
		canvas = imaging.Overlay(canvas, shadow, pos.Add(image.Pt(dx, dy)), 1)
	}
	return imaging.Overlay(canvas, fg, pos, 1)
}

// shadowOf builds a black silhouette of fg with its alpha scaled by the
// preset and blurred.
func shadowOf(fg *image.NRGBA, s Shadow) *image.NRGBA {
	b := fg.Bounds()
	out := imaging.New(b.Dx(), b.Dy(), color.NRGBA{})
	scale := float64(s.Alpha) / 255
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			a := fg.Pix[y*fg.Stride+x*4+3]
			out.Pix[y*out.Stride+x*4+3] = uint8(float64(a) * scale)
		}
	}
	if s.Blur > 0 {
		out = imaging.Blur(out, s.Blur)
	}
	return out
}

// ComposeOne renders and encodes a single composition, returning the
// encoded bytes and the file extension.
func ComposeOne(item, template image.Image, opts Options) ([]byte, string, error) {
	img := Render(item, template, opts)

	var buf bytes.Buffer
	ext := opts.Ext()
	var err error
	if ext == "png" {
		err = imaging.Encode(&buf, img, imaging.PNG)
	} else {
		q := opts.Quality
		if q <= 0 || q > 100 {
			q = DefaultQuality
		}
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q))
	}
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", ext, err)
	}
	return buf.Bytes(), ext, nil
}
