package galeria

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DBStore keeps image bytes in a blob column of the images table.
type DBStore struct {
	db *DB
}

// NewDBStore returns a store over db. The caller keeps ownership of db.
func NewDBStore(db *DB) *DBStore {
	return &DBStore{db: db}
}

// Close is a no-op; whoever opened the DB closes it.
func (s *DBStore) Close() error { return nil }

// List returns image metadata ordered by upload time, newest first.
func (s *DBStore) List(ctx context.Context) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, original_name, mime_type, `+s.db.lengthFunc()+`(data), uploaded_at FROM images ORDER BY uploaded_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := []Image{}
	for rows.Next() {
		var (
			id         int64
			img        Image
			uploadedAt int64
		)
		if err := rows.Scan(&id, &img.OriginalName, &img.MimeType, &img.Size, &uploadedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		img.ID = strconv.FormatInt(id, 10)
		img.UploadedAt = time.Unix(0, uploadedAt).UTC()
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// Get returns a single image with its bytes.
func (s *DBStore) Get(ctx context.Context, id string) (Image, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return Image{}, ErrNotFound
	}
	img := Image{ID: strconv.FormatInt(n, 10)}
	var uploadedAt int64
	err = s.db.QueryRowContext(ctx, s.db.rebind(`SELECT original_name, mime_type, data, uploaded_at FROM images WHERE id = ?`), n).
		Scan(&img.OriginalName, &img.MimeType, &img.Data, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, ErrNotFound
	}
	if err != nil {
		return Image{}, fmt.Errorf("get image %d: %w", n, err)
	}
	img.Size = int64(len(img.Data))
	img.UploadedAt = time.Unix(0, uploadedAt).UTC()
	return img, nil
}

// Save inserts a new image row in a single statement.
func (s *DBStore) Save(ctx context.Context, originalName, mimeType string, data []byte) (Image, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.db.rebind(`INSERT INTO images (original_name, mime_type, data, uploaded_at) VALUES (?, ?, ?, ?) RETURNING id`),
		originalName, mimeType, data, now.UnixNano()).Scan(&id)
	if err != nil {
		return Image{}, fmt.Errorf("insert image: %w", err)
	}
	return Image{
		ID:           strconv.FormatInt(id, 10),
		OriginalName: originalName,
		MimeType:     mimeType,
		Size:         int64(len(data)),
		UploadedAt:   now,
	}, nil
}

// Delete removes an image row. Unknown or malformed ids are a no-op.
func (s *DBStore) Delete(ctx context.Context, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.db.rebind(`DELETE FROM images WHERE id = ?`), n); err != nil {
		return fmt.Errorf("delete image %d: %w", n, err)
	}
	return nil
}
