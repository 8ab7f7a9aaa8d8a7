package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	ctx := context.Background()
	srv, c := newTestClient(t)
	storage := NewStorage(c, "documents")

	t.Run("upload and public URL", func(t *testing.T) {
		err := storage.Upload(ctx, "lease.pdf", "application/pdf", []byte("pdf bytes"))
		require.NoError(t, err)
		assert.True(t, srv.HasObject("documents", "lease.pdf"))

		url := storage.PublicURL("lease.pdf")
		assert.Equal(t, c.BaseURL()+"/storage/v1/object/public/documents/lease.pdf", url)
	})

	t.Run("remove", func(t *testing.T) {
		srv.PutObject("documents", "old.pdf", []byte("x"))
		require.NoError(t, storage.Remove(ctx, "old.pdf"))
		assert.False(t, srv.HasObject("documents", "old.pdf"))
	})
}
