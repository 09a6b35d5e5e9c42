package uploader

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"itemuploader/internal/compose"
)

var errNoUsableItem = errors.New("no item image has usable transparency")

type composeRequest struct {
	Anchor      string  `form:"anchor" validate:"omitempty,oneof=center top bottom left right top-left top-right bottom-left bottom-right"`
	ResizeRatio float64 `form:"resize_ratio" validate:"gte=0,lte=10"`
	Shadow      string  `form:"shadow" validate:"omitempty,oneof=off light medium strong"`
	Format      string  `form:"format" validate:"omitempty,oneof=jpeg jpg png JPEG JPG PNG"`
	Quality     int     `form:"quality" validate:"omitempty,min=1,max=100"`
	ShopVar     string  `form:"shop_var" validate:"max=64"`
}

func (r composeRequest) options() compose.Options {
	opts := compose.DefaultOptions()
	if r.Anchor != "" {
		opts.Anchor = compose.Anchor(r.Anchor)
	}
	if r.ResizeRatio > 0 {
		opts.ResizeRatio = r.ResizeRatio
	}
	if r.Shadow != "" {
		opts.Shadow = r.Shadow
	}
	if r.Format != "" {
		opts.Format = r.Format
	}
	if r.Quality > 0 {
		opts.Quality = r.Quality
	}
	return opts
}

// composeInput binds the form options and decodes the uploaded items and
// templates.
func (s *Server) composeInput(c echo.Context) (composeRequest, []compose.Source, []compose.Source, error) {
	var req composeRequest
	if err := c.Bind(&req); err != nil {
		return req, nil, nil, fmt.Errorf("%w: %v", errBadCompose, err)
	}
	if err := s.validate.Struct(&req); err != nil {
		return req, nil, nil, fmt.Errorf("%w: %v", errBadCompose, err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return req, nil, nil, fmt.Errorf("%w: %v", errBadCompose, err)
	}

	items, err := decodeAll(form.File["items"])
	if err != nil {
		return req, nil, nil, err
	}
	templates, err := decodeAll(form.File["templates"])
	if err != nil {
		return req, nil, nil, err
	}
	if len(items) == 0 || len(templates) == 0 {
		return req, nil, nil, fmt.Errorf("%w: at least one item and one template image are required", errBadCompose)
	}
	return req, items, templates, nil
}

var errBadCompose = errors.New("invalid compose request")

func decodeAll(headers []*multipart.FileHeader) ([]compose.Source, error) {
	var out []compose.Source
	for _, fh := range headers {
		if !compose.IsImageName(fh.Filename) {
			logrus.WithField("file", fh.Filename).Warn("Unsupported image type, skipped")
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		src, err := compose.Decode(fh.Filename, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadCompose, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func composeStatus(err error) int {
	switch {
	case errors.Is(err, errBadCompose):
		return http.StatusBadRequest
	case errors.Is(err, errNoUsableItem):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) handleCompose(c echo.Context) error {
	req, items, templates, err := s.composeInput(c)
	if err != nil {
		logrus.WithError(err).Error("Invalid compose request")
		return c.JSON(composeStatus(err), map[string]string{"error": err.Error()})
	}

	var buf bytes.Buffer
	zw := compose.NewZipEmitter(&buf)
	n, err := compose.Batch(c.Request().Context(), items, templates, req.options(), req.ShopVar, zw.Emit)
	if err == nil {
		err = zw.Close()
	}
	if err == nil && n == 0 {
		err = errNoUsableItem
	}
	if err != nil {
		logrus.WithError(err).Error("Compositing failed")
		return c.JSON(composeStatus(err), map[string]string{"error": err.Error()})
	}

	logrus.WithFields(logrus.Fields{"items": len(items), "templates": len(templates), "images": n}).Info("Thumbnails composed")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="thumbnails.zip"`)
	c.Response().Header().Set("X-Image-Count", fmt.Sprint(n))
	return c.Blob(http.StatusOK, "application/zip", buf.Bytes())
}

// handleComposePreview renders the first usable item on the first template
// as PNG.
func (s *Server) handleComposePreview(c echo.Context) error {
	req, items, templates, err := s.composeInput(c)
	if err != nil {
		logrus.WithError(err).Error("Invalid preview request")
		return c.JSON(composeStatus(err), map[string]string{"error": err.Error()})
	}

	for _, it := range items {
		if !compose.HasUsefulAlpha(it.Image) {
			continue
		}
		img := compose.Render(it.Image, templates[0].Image, req.options())
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.Blob(http.StatusOK, "image/png", buf.Bytes())
	}
	return c.JSON(composeStatus(errNoUsableItem), map[string]string{"error": errNoUsableItem.Error()})
}
