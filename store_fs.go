package galeria

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// storedName matches the names FSStore generates: <unix millis>.<ext>.
var storedName = regexp.MustCompile(`^[0-9]{1,19}\.(jpg|png)$`)

// metaSuffix names the sidecar holding an image's metadata: 123.png.json.
const metaSuffix = ".json"

type fsMeta struct {
	OriginalName string `json:"original_name"`
}

// FSStore keeps each image as a file named after its upload time, with the
// client's file name in a JSON sidecar next to it.
// It is not transactional: a crash mid-write can leave a partial file, which
// List skips once it fails to stat.
type FSStore struct {
	dir    string
	logger echo.Logger
}

// NewFSStore creates dir if needed and returns a store rooted at it.
func NewFSStore(dir string, logger echo.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FSStore{dir: dir, logger: logger}, nil
}

// Close is a no-op; FSStore holds no open handles.
func (s *FSStore) Close() error { return nil }

// path resolves an id to a file inside the store directory. Anything that is
// not a bare generated file name is refused.
func (s *FSStore) path(id string) (string, bool) {
	if id == "" || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return "", false
	}
	if !storedName.MatchString(id) {
		return "", false
	}
	return filepath.Join(s.dir, id), true
}

// originalName reads the sidecar of a stored file, falling back to the
// stored name when there is none.
func (s *FSStore) originalName(name string) string {
	data, err := os.ReadFile(filepath.Join(s.dir, name+metaSuffix))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warnf("read metadata of %s: %v", name, err)
		}
		return name
	}
	var meta fsMeta
	if err := json.Unmarshal(data, &meta); err != nil || meta.OriginalName == "" {
		return name
	}
	return meta.OriginalName
}

func (s *FSStore) writeMeta(name, originalName string) error {
	data, err := json.Marshal(fsMeta{OriginalName: originalName})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, name+metaSuffix), data, 0o644)
}

func uploadedAtFromName(name string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSuffix(name, filepath.Ext(name)), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// List returns the stored files, newest first.
func (s *FSStore) List(ctx context.Context) ([]Image, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	images := []Image{}
	for _, e := range entries {
		if e.IsDir() || !storedName.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		mime, _ := mimeForExtension(filepath.Ext(e.Name()))
		images = append(images, Image{
			ID:           e.Name(),
			OriginalName: s.originalName(e.Name()),
			MimeType:     mime,
			Size:         info.Size(),
			UploadedAt:   uploadedAtFromName(e.Name()),
		})
	}
	sort.Slice(images, func(i, j int) bool {
		if !images[i].UploadedAt.Equal(images[j].UploadedAt) {
			return images[i].UploadedAt.After(images[j].UploadedAt)
		}
		return images[i].ID > images[j].ID
	})
	return images, nil
}

// Get reads a stored file.
func (s *FSStore) Get(ctx context.Context, id string) (Image, error) {
	p, ok := s.path(id)
	if !ok {
		return Image{}, ErrNotFound
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, fmt.Errorf("read image %s: %w", id, err)
	}
	mime, _ := mimeForExtension(filepath.Ext(id))
	return Image{
		ID:           id,
		OriginalName: s.originalName(id),
		MimeType:     mime,
		Size:         int64(len(data)),
		Data:         data,
		UploadedAt:   uploadedAtFromName(id),
	}, nil
}

// Save writes data under a fresh <unix millis>.<ext> name. A name already
// taken in the same millisecond moves the timestamp forward until a free one
// is found. A failed write removes the partial file.
func (s *FSStore) Save(ctx context.Context, originalName, mimeType string, data []byte) (Image, error) {
	ext := extensionFor(mimeType)
	ms := time.Now().UnixMilli()
	for attempt := 0; attempt < 1000; attempt++ {
		name := strconv.FormatInt(ms, 10) + ext
		p := filepath.Join(s.dir, name)
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			ms++
			continue
		}
		if err != nil {
			return Image{}, fmt.Errorf("create image file: %w", err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		var merr error
		if werr == nil && cerr == nil {
			merr = s.writeMeta(name, originalName)
		}
		if werr != nil || cerr != nil || merr != nil {
			s.removeFiles(name)
			return Image{}, fmt.Errorf("write image file: %w", errors.Join(werr, cerr, merr))
		}
		return Image{
			ID:           name,
			OriginalName: originalName,
			MimeType:     mimeType,
			Size:         int64(len(data)),
			UploadedAt:   time.UnixMilli(ms).UTC(),
		}, nil
	}
	return Image{}, fmt.Errorf("create image file: no free name near %d", ms)
}

// Delete removes a stored file. Missing files are logged and ignored.
func (s *FSStore) Delete(ctx context.Context, id string) error {
	p, ok := s.path(id)
	if !ok {
		s.logger.Warnf("delete: refusing image id %q", id)
		return nil
	}
	err := os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Warnf("delete: %s already gone", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete image %s: %w", id, err)
	}
	if err := os.Remove(p + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warnf("delete metadata of %s: %v", id, err)
	}
	return nil
}

// removeFiles drops a partially written image and its sidecar.
func (s *FSStore) removeFiles(name string) {
	for _, p := range []string{filepath.Join(s.dir, name), filepath.Join(s.dir, name+metaSuffix)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Errorf("remove partial upload %s: %v", filepath.Base(p), err)
		}
	}
}
