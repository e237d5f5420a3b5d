package views

import "time"

// Site holds site-wide settings every page needs.
type Site struct {
	Name string
}

// Image is the template-facing view of a stored image.
type Image struct {
	ID           string
	OriginalName string
	Size         int64
	UploadedAt   time.Time
	URL          string
	ThumbURL     string
}

// GalleryPage is the data for the public gallery.
type GalleryPage struct {
	Site   Site
	Images []Image
}

// LoginPage is the data for the login form.
type LoginPage struct {
	Site      Site
	Error     string
	CSRFToken string
}

// AdminPage is the data for the management view.
type AdminPage struct {
	Site      Site
	Username  string
	Images    []Image
	Error     string
	Success   string
	CSRFToken string
	MaxUpload string
}

// ErrorPage is the data for the 404 and 500 pages.
type ErrorPage struct {
	Site Site
}
