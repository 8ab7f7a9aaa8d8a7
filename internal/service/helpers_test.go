package service

import (
	"context"
	"testing"

	"github.com/jabvlabs/roommate/internal/backend"
	"github.com/jabvlabs/roommate/internal/backend/backendtest"
	"github.com/jabvlabs/roommate/internal/collection"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/jabvlabs/roommate/internal/kv"
	"github.com/jabvlabs/roommate/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// env wires the real clients against one fake backend, signed in as a fresh
// user.
type env struct {
	srv     *backendtest.Server
	tables  *backend.Tables
	storage *backend.Storage
	dir     *backend.Directory
	sess    *session.Store
	bus     *collection.Bus
	user    *domain.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	srv := backendtest.New()
	t.Cleanup(srv.Close)

	c, err := backend.NewClient(srv.URL(), backendtest.AnonKey, zerolog.Nop())
	require.NoError(t, err)

	store := kv.NewMemory()
	auth := backend.NewAuth(c, store, zerolog.Nop())
	t.Cleanup(auth.Close)
	dir := backend.NewDirectory(c, zerolog.Nop())

	sess := session.New(auth, dir, store, zerolog.Nop())
	t.Cleanup(sess.Close)

	srv.CreateUser("bob@example.com", "secret")
	require.NoError(t, sess.Login(ctx, "bob@example.com", "secret"))

	return &env{
		srv:     srv,
		tables:  backend.NewTables(c),
		storage: backend.NewStorage(c, "documents"),
		dir:     dir,
		sess:    sess,
		bus:     collection.NewBus(),
		user:    sess.User(),
	}
}

// withApartment creates an apartment through the session store and returns
// its id.
func (e *env) withApartment(t *testing.T, name string) *session.CreateResult {
	t.Helper()
	res, err := e.sess.CreateApartment(context.Background(), name)
	require.NoError(t, err)
	return res
}
