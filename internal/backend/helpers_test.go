package backend

import (
	"testing"

	"github.com/jabvlabs/roommate/internal/backend/backendtest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*backendtest.Server, *Client) {
	t.Helper()
	srv := backendtest.New()
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL(), backendtest.AnonKey, zerolog.Nop())
	require.NoError(t, err)
	return srv, c
}
