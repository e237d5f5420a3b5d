package galeria

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/image/draw"
)

const (
	thumbWidth  = 400
	jpegQuality = 80
)

// makeThumbnail decodes src, scales it down to thumbWidth if it is wider,
// flattens transparency onto white and encodes it as JPEG.
func makeThumbnail(src io.Reader) ([]byte, error) {
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > thumbWidth {
		h = h * thumbWidth / w
		w = thumbWidth
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *App) handleImage(c echo.Context) error {
	img, err := a.Images.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, img.MimeType, img.Data)
}

func (a *App) handleThumb(c echo.Context) error {
	id := c.Param("id")
	data, err := a.thumbs.Get(id, func() ([]byte, error) {
		img, err := a.Images.Get(c.Request().Context(), id)
		if err != nil {
			return nil, err
		}
		return makeThumbnail(bytes.NewReader(img.Data))
	})
	if errors.Is(err, ErrNotFound) {
		return echo.ErrNotFound
	}
	if err != nil {
		// Header-valid but undecodable uploads still have their original.
		c.Logger().Warnf("thumbnail %s: %v", id, err)
		return c.Redirect(http.StatusFound, "/imagem/"+PathEscape(id))
	}
	return c.Blob(http.StatusOK, mimeJPEG, data)
}
