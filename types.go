package galeria

import "time"

// Image is a stored gallery image. Data is only populated by ImageStore.Get.
type Image struct {
	ID           string
	OriginalName string
	MimeType     string
	Size         int64
	Data         []byte
	UploadedAt   time.Time
}

// URL returns the public path serving the raw image bytes.
func (img Image) URL() string {
	return "/imagem/" + PathEscape(img.ID)
}

// ThumbURL returns the public path serving the downscaled preview.
func (img Image) ThumbURL() string {
	return img.URL() + "/thumb"
}

// Flash kinds stored on the session.
const (
	FlashError   = "error"
	FlashSuccess = "success"
)

// Flash carries the one-shot messages consumed for a single render.
type Flash struct {
	Error   string
	Success string
}
