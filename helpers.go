package galeria

import (
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"

	maxOriginalNameLen = 255
)

// PathEscape escapes a string for use in a URL path.
func PathEscape(s string) string {
	return url.PathEscape(s)
}

// normalizeMime lowercases a declared content type, drops parameters and
// folds the non-standard "image/jpg" alias into image/jpeg.
func normalizeMime(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m == "image/jpg" || m == "image/pjpeg" {
		return mimeJPEG
	}
	return m
}

// extensionFor returns the file extension stored for an accepted mime type.
func extensionFor(mime string) string {
	switch mime {
	case mimePNG:
		return ".png"
	default:
		return ".jpg"
	}
}

// mimeForExtension is the inverse of extensionFor for filesystem storage.
func mimeForExtension(ext string) (string, bool) {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return mimeJPEG, true
	case ".png":
		return mimePNG, true
	}
	return "", false
}

// cleanOriginalName keeps only the base name of a client supplied file name
// and bounds its length.
func cleanOriginalName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	for len(name) > maxOriginalNameLen {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
