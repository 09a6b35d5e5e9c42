package compose

import (
	"archive/zip"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	// Registers the WebP decoder for item uploads.
	_ "golang.org/x/image/webp"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Source is a decoded image with the file name it came from.
type Source struct {
	Name  string
	Image image.Image
}

// Stem returns the file name without directory or extension.
func (s Source) Stem() string {
	base := filepath.Base(s.Name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsImageName reports whether name has a supported image extension.
func IsImageName(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// Decode reads one image.
func Decode(name string, r io.Reader) (Source, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return Source{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return Source{Name: name, Image: img}, nil
}

// LoadDir decodes every supported image in dir, sorted by name.
func LoadDir(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsImageName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Source, 0, len(names))
	for _, n := range names {
		img, err := imaging.Open(filepath.Join(dir, n), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", n, err)
		}
		out = append(out, Source{Name: n, Image: img})
	}
	return out, nil
}

// OutputName is "<item>_C_<shopVar or template>.<ext>".
func OutputName(item, template Source, shopVar, ext string) string {
	suffix := strings.TrimSpace(shopVar)
	if suffix == "" {
		suffix = template.Stem()
	}
	return fmt.Sprintf("%s_C_%s.%s", item.Stem(), suffix, ext)
}

// EmitFunc receives each finished composition.
type EmitFunc func(name string, data []byte) error

// Batch composites every item with useful alpha onto every template and
// hands the results to emit in item-then-template order. Items without
// transparency are skipped. It returns the number of images produced.
func Batch(ctx context.Context, items, templates []Source, opts Options, shopVar string, emit EmitFunc) (int, error) {
	type job struct {
		name string
		data []byte
	}
	var usable []Source
	for _, it := range items {
		if HasUsefulAlpha(it.Image) {
			usable = append(usable, it)
		} else {
			logrus.WithField("item", it.Name).Warn("Item has no useful transparency, skipped")
		}
	}

	jobs := make([]job, len(usable)*len(templates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, it := range usable {
		for j, tpl := range templates {
			i, it, j, tpl := i, it, j, tpl
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				data, ext, err := ComposeOne(it.Image, tpl.Image, opts)
				if err != nil {
					return fmt.Errorf("%s on %s: %w", it.Name, tpl.Name, err)
				}
				jobs[i*len(templates)+j] = job{name: OutputName(it, tpl, shopVar, ext), data: data}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	seen := make(map[string]int)
	for _, j := range jobs {
		name := j.name
		if n := seen[j.name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n+1, ext)
		}
		seen[j.name]++
		if err := emit(name, j.data); err != nil {
			return 0, err
		}
	}
	return len(jobs), nil
}

// ZipEmitter writes compositions into a zip archive.
type ZipEmitter struct {
	zw *zip.Writer
}

// NewZipEmitter starts a zip archive on w.
func NewZipEmitter(w io.Writer) *ZipEmitter {
	return &ZipEmitter{zw: zip.NewWriter(w)}
}

// Emit adds one file to the archive.
func (z *ZipEmitter) Emit(name string, data []byte) error {
	w, err := z.zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Close finishes the archive.
func (z *ZipEmitter) Close() error {
	return z.zw.Close()
}
