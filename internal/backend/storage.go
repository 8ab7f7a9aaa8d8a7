package backend

import (
	"context"
	"net/http"
)

// Storage is the bucket API for binary attachments: upload, public URL
// retrieval, delete.
type Storage struct {
	c      *Client
	bucket string
}

// NewStorage creates the storage API scoped to one bucket.
func NewStorage(c *Client, bucket string) *Storage {
	return &Storage{c: c, bucket: bucket}
}

// Upload stores an object under path.
func (s *Storage) Upload(ctx context.Context, path, contentType string, data []byte) error {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return s.c.do(ctx, http.MethodPost, "/storage/v1/object/"+s.bucket+"/"+path, nil, header, data, nil)
}

// PublicURL returns the object's public URL. Buckets here are public; the
// URL is stored on the document row and rendered directly.
func (s *Storage) PublicURL(path string) string {
	return s.c.BaseURL() + "/storage/v1/object/public/" + s.bucket + "/" + path
}

// Remove deletes the named objects.
func (s *Storage) Remove(ctx context.Context, paths ...string) error {
	body := map[string][]string{"prefixes": paths}
	return s.c.do(ctx, http.MethodDelete, "/storage/v1/object/"+s.bucket, nil, nil, body, nil)
}
