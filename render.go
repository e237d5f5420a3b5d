package galeria

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github.com/eringen/galeria/views"
)

// Views holds the page components the handlers render. Any nil field falls
// back to the default templates in package views.
type Views struct {
	Gallery     func(site string, images []Image) templ.Component
	Login       func(site, errMsg, csrfToken string) templ.Component
	Admin       func(site, username string, images []Image, flash Flash, csrfToken string) templ.Component
	NotFound    func(site string) templ.Component
	ServerError func(site string) templ.Component
}

// DefaultViews returns the built-in templates.
func DefaultViews() Views {
	return Views{
		Gallery: func(site string, images []Image) templ.Component {
			return views.Gallery(views.GalleryPage{Site: views.Site{Name: site}, Images: toViewImages(images)})
		},
		Login: func(site, errMsg, csrfToken string) templ.Component {
			return views.Login(views.LoginPage{Site: views.Site{Name: site}, Error: errMsg, CSRFToken: csrfToken})
		},
		Admin: func(site, username string, images []Image, flash Flash, csrfToken string) templ.Component {
			return views.Admin(views.AdminPage{
				Site:      views.Site{Name: site},
				Username:  username,
				Images:    toViewImages(images),
				Error:     flash.Error,
				Success:   flash.Success,
				CSRFToken: csrfToken,
				MaxUpload: humanize.IBytes(MaxUploadSize),
			})
		},
		NotFound: func(site string) templ.Component {
			return views.NotFound(views.ErrorPage{Site: views.Site{Name: site}})
		},
		ServerError: func(site string) templ.Component {
			return views.ServerError(views.ErrorPage{Site: views.Site{Name: site}})
		},
	}
}

func (v Views) withDefaults() Views {
	d := DefaultViews()
	if v.Gallery == nil {
		v.Gallery = d.Gallery
	}
	if v.Login == nil {
		v.Login = d.Login
	}
	if v.Admin == nil {
		v.Admin = d.Admin
	}
	if v.NotFound == nil {
		v.NotFound = d.NotFound
	}
	if v.ServerError == nil {
		v.ServerError = d.ServerError
	}
	return v
}

func toViewImages(images []Image) []views.Image {
	out := make([]views.Image, 0, len(images))
	for _, img := range images {
		out = append(out, views.Image{
			ID:           img.ID,
			OriginalName: img.OriginalName,
			Size:         img.Size,
			UploadedAt:   img.UploadedAt,
			URL:          img.URL(),
			ThumbURL:     img.ThumbURL(),
		})
	}
	return out
}

// Render writes a templ component as an HTTP 200 HTML response.
func Render(c echo.Context, cmp templ.Component) error {
	return RenderStatus(c, http.StatusOK, cmp)
}

// RenderStatus writes a templ component with a specific HTTP status code.
func RenderStatus(c echo.Context, code int, cmp templ.Component) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(code)
	return cmp.Render(c.Request().Context(), c.Response().Writer)
}
