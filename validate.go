package galeria

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dustin/go-humanize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Upload limits.
const (
	MaxUploadSize  = 5 << 20 // 5 MiB
	MaxImageWidth  = 2560
	MaxImageHeight = 2560
)

// Rejection reasons reported by ValidateUpload.
const (
	ReasonTooLarge          = "too_large"
	ReasonInvalidFormat     = "invalid_format"
	ReasonCorrupt           = "corrupt"
	ReasonResolutionTooHigh = "resolution_too_high"
)

// ValidationError describes why an upload was rejected. Message is safe to
// show to the user.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func reject(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func tooLargeMessage() string {
	return fmt.Sprintf("File is too large. The limit is %s.", humanize.IBytes(MaxUploadSize))
}

// Upload is an upload that passed validation.
type Upload struct {
	MimeType string
	Width    int
	Height   int
	Data     []byte
}

var allowedFormats = map[string]string{
	"jpeg": mimeJPEG,
	"png":  mimePNG,
}

// ValidateUpload checks size, declared mime type and decoded dimensions, in
// that order, stopping at the first failure. The returned Upload carries the
// mime type of the format actually decoded from data.
func ValidateUpload(data []byte, declaredMime string, declaredSize int64) (Upload, error) {
	if declaredSize > MaxUploadSize || int64(len(data)) > MaxUploadSize {
		return Upload{}, &ValidationError{Reason: ReasonTooLarge, Message: tooLargeMessage()}
	}

	switch normalizeMime(declaredMime) {
	case mimeJPEG, mimePNG:
	default:
		return Upload{}, reject(ReasonInvalidFormat, "Invalid format. Only JPG and PNG images are allowed.")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Upload{}, reject(ReasonCorrupt, "The image is corrupt or unreadable.")
	}
	mime, ok := allowedFormats[format]
	if !ok {
		return Upload{}, reject(ReasonInvalidFormat, "Invalid format. The file is %s, only JPG and PNG images are allowed.", format)
	}
	if cfg.Width > MaxImageWidth || cfg.Height > MaxImageHeight {
		return Upload{}, reject(ReasonResolutionTooHigh,
			"Resolution too high (%dx%d). The maximum is %dx%d.",
			cfg.Width, cfg.Height, MaxImageWidth, MaxImageHeight)
	}

	return Upload{
		MimeType: mime,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Data:     data,
	}, nil
}
