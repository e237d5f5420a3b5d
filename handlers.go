package galeria

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (a *App) handleGallery(c echo.Context) error {
	images, err := a.Images.List(c.Request().Context())
	if err != nil {
		return err
	}
	return Render(c, a.Views.Gallery(a.Config.Name, images))
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	ok := errors.As(err, &he)
	if ok && he.Code == http.StatusNotFound {
		_ = RenderStatus(c, http.StatusNotFound, a.Views.NotFound(a.Config.Name))
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		c.Logger().Errorf("server error: %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		_ = RenderStatus(c, code, a.Views.ServerError(a.Config.Name))
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
