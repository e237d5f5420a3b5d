// Package views holds the default page templates. Each page is an
// html/template set (layout + page) exposed as a templ.Component so the
// application can swap any of them for its own templ components.
package views

import (
	"embed"
	"html/template"

	"github.com/a-h/templ"
)

//go:embed templates/*.html
var files embed.FS

var pages = map[string]*template.Template{
	"gallery": parsePage("gallery.html"),
	"login":   parsePage("login.html"),
	"admin":   parsePage("admin.html"),
	"404":     parsePage("notfound.html"),
	"500":     parsePage("servererror.html"),
}

func parsePage(name string) *template.Template {
	return template.Must(template.New("layout.html").Funcs(funcs).
		ParseFS(files, "templates/layout.html", "templates/"+name))
}

// Gallery renders the public image grid.
func Gallery(p GalleryPage) templ.Component {
	return templ.FromGoHTML(pages["gallery"], p)
}

// Login renders the login form.
func Login(p LoginPage) templ.Component {
	return templ.FromGoHTML(pages["login"], p)
}

// Admin renders the upload form and the image list with delete buttons.
func Admin(p AdminPage) templ.Component {
	return templ.FromGoHTML(pages["admin"], p)
}

// NotFound renders the 404 page.
func NotFound(p ErrorPage) templ.Component {
	return templ.FromGoHTML(pages["404"], p)
}

// ServerError renders the 500 page. It never shows error details.
func ServerError(p ErrorPage) templ.Component {
	return templ.FromGoHTML(pages["500"], p)
}
