package galeria

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	glog "github.com/labstack/gommon/log"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(DriverSQLite, filepath.Join(t.TempDir(), "galeria.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupFSStore(t *testing.T) (*FSStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "uploads")
	logger := glog.New("test")
	logger.SetOutput(os.Stderr)
	s, err := NewFSStore(dir, logger)
	if err != nil {
		t.Fatalf("failed to create fs store: %v", err)
	}
	return s, dir
}

// exerciseStore runs the behaviour both backends share.
func exerciseStore(t *testing.T, s ImageStore) {
	ctx := context.Background()

	images, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(images) != 0 {
		t.Fatalf("new store should be empty, got %d", len(images))
	}

	first := encodePNG(t, 20, 10)
	second := encodeJPEG(t, 800, 600)

	a, err := s.Save(ctx, "first.png", "image/png", first)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// Distinct upload timestamps for the filesystem backend.
	time.Sleep(5 * time.Millisecond)
	b, err := s.Save(ctx, "second.jpg", "image/jpeg", second)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}

	images, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("List count = %d, want 2", len(images))
	}
	if images[0].ID != b.ID || images[1].ID != a.ID {
		t.Errorf("List order = [%s %s], want newest first [%s %s]", images[0].ID, images[1].ID, b.ID, a.ID)
	}
	if images[0].Size != int64(len(second)) {
		t.Errorf("Size = %d, want %d", images[0].Size, len(second))
	}
	if images[0].Data != nil {
		t.Error("List should not load image bytes")
	}

	got, err := s.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got.Data, second) {
		t.Error("Get should return the stored bytes unchanged")
	}
	if got.MimeType != "image/jpeg" {
		t.Errorf("MimeType = %q, want image/jpeg", got.MimeType)
	}
	if got.OriginalName != "second.jpg" {
		t.Errorf("OriginalName = %q, want second.jpg", got.OriginalName)
	}
	if images[1].OriginalName != "first.png" {
		t.Errorf("listed OriginalName = %q, want first.png", images[1].OriginalName)
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: want ErrNotFound, got %v", err)
	}
	// Deleting again is not an error.
	if err := s.Delete(ctx, a.ID); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}

	images, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(images) != 1 || images[0].ID != b.ID {
		t.Errorf("List after delete = %+v", images)
	}
}

func TestDBStore(t *testing.T) {
	exerciseStore(t, NewDBStore(setupTestDB(t)))
}

func TestDBStoreKeepsOriginalName(t *testing.T) {
	s := NewDBStore(setupTestDB(t))
	ctx := context.Background()
	img, err := s.Save(ctx, "holiday.png", "image/png", encodePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Get(ctx, img.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.OriginalName != "holiday.png" {
		t.Errorf("OriginalName = %q", got.OriginalName)
	}
	if got.UploadedAt.IsZero() {
		t.Error("UploadedAt should be set")
	}
}

func TestDBStoreMalformedIDs(t *testing.T) {
	s := NewDBStore(setupTestDB(t))
	ctx := context.Background()
	for _, id := range []string{"", "abc", "-1", "0", "1; DROP TABLE images"} {
		if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q): want ErrNotFound, got %v", id, err)
		}
		if err := s.Delete(ctx, id); err != nil {
			t.Errorf("Delete(%q): want nil, got %v", id, err)
		}
	}
	if err := s.Delete(ctx, "999"); err != nil {
		t.Errorf("Delete of unknown id: %v", err)
	}
}

func TestFSStore(t *testing.T) {
	s, _ := setupFSStore(t)
	exerciseStore(t, s)
}

func TestFSStoreFileNames(t *testing.T) {
	s, dir := setupFSStore(t)
	ctx := context.Background()

	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		img, err := s.Save(ctx, "same.png", "image/png", encodePNG(t, 2, 2))
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if !storedName.MatchString(img.ID) || filepath.Ext(img.ID) != ".png" {
			t.Errorf("unexpected file name %q", img.ID)
		}
		if ids[img.ID] {
			t.Fatalf("duplicate id %q", img.ID)
		}
		ids[img.ID] = true
		if _, err := os.Stat(filepath.Join(dir, img.ID)); err != nil {
			t.Errorf("file %s not written: %v", img.ID, err)
		}
	}

	jpg, err := s.Save(ctx, "photo.jpeg", "image/jpeg", encodeJPEG(t, 2, 2))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Ext(jpg.ID) != ".jpg" {
		t.Errorf("jpeg stored as %q", jpg.ID)
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	s, dir := setupFSStore(t)
	ctx := context.Background()

	outside := filepath.Join(filepath.Dir(dir), "secret.png")
	if err := os.WriteFile(outside, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"../secret.png", "..", ".", "/etc/passwd", `..\secret.png`, "sub/1.png", ".hidden.png"} {
		if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q): want ErrNotFound, got %v", id, err)
		}
		if err := s.Delete(ctx, id); err != nil {
			t.Errorf("Delete(%q): want nil, got %v", id, err)
		}
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("file outside the store was touched: %v", err)
	}
}

func TestFSStoreIgnoresForeignFiles(t *testing.T) {
	s, dir := setupFSStore(t)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "123.png"), 0o755); err != nil {
		t.Fatal(err)
	}
	images, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(images) != 0 {
		t.Errorf("List = %+v, want empty", images)
	}
}

func TestFSStoreMetadataSidecar(t *testing.T) {
	s, dir := setupFSStore(t)
	ctx := context.Background()

	img, err := s.Save(ctx, "Férias 2024.png", "image/png", encodePNG(t, 2, 2))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	sidecar := filepath.Join(dir, img.ID+metaSuffix)
	if _, err := os.Stat(sidecar); err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}

	// A file without a sidecar falls back to its stored name.
	if err := os.WriteFile(filepath.Join(dir, "1000.png"), encodePNG(t, 2, 2), 0o644); err != nil {
		t.Fatal(err)
	}
	images, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("List = %d images, want 2 (sidecars are not images)", len(images))
	}
	names := map[string]string{}
	for _, im := range images {
		names[im.ID] = im.OriginalName
	}
	if names[img.ID] != "Férias 2024.png" {
		t.Errorf("OriginalName = %q", names[img.ID])
	}
	if names["1000.png"] != "1000.png" {
		t.Errorf("fallback OriginalName = %q", names["1000.png"])
	}

	if err := s.Delete(ctx, img.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(sidecar); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("sidecar should be removed with the image, stat err = %v", err)
	}
}
