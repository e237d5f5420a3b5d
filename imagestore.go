package galeria

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested image does not exist.
var ErrNotFound = errors.New("galeria: image not found")

// ImageStore persists uploaded images. DBStore and FSStore are the two
// backends; Config.StorageMode picks one.
type ImageStore interface {
	// List returns image metadata, newest first. Data is left empty.
	List(ctx context.Context) ([]Image, error)
	// Get returns the full image including its bytes, or ErrNotFound.
	Get(ctx context.Context, id string) (Image, error)
	// Save persists an already validated image and returns its record.
	Save(ctx context.Context, originalName, mimeType string, data []byte) (Image, error)
	// Delete removes an image. Deleting a missing image is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}
