package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jabvlabs/roommate/internal/domain"
	"github.com/jabvlabs/roommate/internal/kv"
	"github.com/rs/zerolog"
)

// AuthEvent identifies an auth state change pushed to subscribers.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// sessionKey is where the provider session is persisted in the key-value
// store. Only the provider persists identity material; the session store
// above persists nothing but the apartment snapshot.
const sessionKey = "auth.session"

// refreshMargin is how long before expiry the access token is refreshed.
const refreshMargin = 30 * time.Second

type authUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u *authUser) domain() (*domain.User, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", u.ID, err)
	}
	out := &domain.User{ID: id, Email: u.Email}
	if v, ok := u.UserMetadata["display_name"].(string); ok {
		out.DisplayName = v
	}
	if v, ok := u.UserMetadata["photo_url"].(string); ok {
		out.PhotoURL = v
	}
	return out, nil
}

type session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *authUser `json:"user"`
}

// Auth is the password-auth client: sign-in, sign-up, sign-out, session
// restoration, token auto-refresh, and state-change notifications.
type Auth struct {
	c     *Client
	store kv.Store
	log   zerolog.Logger

	mu        sync.Mutex
	sess      *session
	listeners map[int]func(AuthEvent, *domain.User)
	nextID    int
	stopRef   chan struct{}
}

// NewAuth creates the auth client. The key-value store holds the persisted
// provider session across restarts.
func NewAuth(c *Client, store kv.Store, logger zerolog.Logger) *Auth {
	return &Auth{
		c:         c,
		store:     store,
		log:       logger,
		listeners: make(map[int]func(AuthEvent, *domain.User)),
	}
}

// OnStateChange registers fn for sign-in/sign-out/refresh notifications and
// returns an unsubscribe func. Notifications are delivered asynchronously.
func (a *Auth) OnStateChange(fn func(AuthEvent, *domain.User)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Auth) emit(event AuthEvent, user *domain.User) {
	a.mu.Lock()
	fns := make([]func(AuthEvent, *domain.User), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	go func() {
		for _, fn := range fns {
			fn(event, user)
		}
	}()
}

// SignIn authenticates with email and password.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	q := url.Values{"grant_type": []string{"password"}}
	body := map[string]string{"email": email, "password": password}

	var sess session
	if err := a.c.do(ctx, http.MethodPost, "/auth/v1/token", q, nil, body, &sess); err != nil {
		return nil, err
	}
	if sess.User == nil {
		return nil, fmt.Errorf("provider returned no user")
	}
	user, err := sess.User.domain()
	if err != nil {
		return nil, err
	}

	a.adopt(&sess)
	a.emit(EventSignedIn, user)
	return user, nil
}

// SignUp registers a new account. When the deployment requires email
// confirmation the provider returns a user without a session; that is not an
// error, and active is false.
func (a *Auth) SignUp(ctx context.Context, email, password string) (user *domain.User, active bool, err error) {
	body := map[string]string{"email": email, "password": password}

	var sess session
	if err := a.c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, nil, body, &sess); err != nil {
		return nil, false, err
	}
	if sess.User == nil {
		// Some deployments return the bare user object instead.
		return nil, false, fmt.Errorf("provider returned no user")
	}
	user, err = sess.User.domain()
	if err != nil {
		return nil, false, err
	}

	if sess.AccessToken == "" {
		return user, false, nil
	}

	a.adopt(&sess)
	a.emit(EventSignedIn, user)
	return user, true, nil
}

// SignOut revokes the provider session. Local state is cleared only after
// the provider call succeeds.
func (a *Auth) SignOut(ctx context.Context) error {
	if err := a.c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil, nil); err != nil {
		return err
	}
	a.clear()
	a.emit(EventSignedOut, nil)
	return nil
}

// CurrentUser returns the signed-in user, restoring the persisted provider
// session if needed. A missing session is (nil, nil), not an error.
func (a *Auth) CurrentUser(ctx context.Context) (*domain.User, error) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()

	if sess == nil {
		restored, err := a.restore(ctx)
		if err != nil {
			return nil, err
		}
		if restored == nil {
			return nil, nil
		}
		sess = restored
	}

	if time.Until(sess.ExpiresAt) < refreshMargin {
		if err := a.refresh(ctx); err != nil {
			a.log.Warn().Err(err).Msg("session refresh failed, signing out locally")
			a.clear()
			return nil, nil
		}
	}

	var u authUser
	if err := a.c.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, nil, &u); err != nil {
		return nil, err
	}
	return (&u).domain()
}

// Close stops the refresh loop. The in-memory session survives for the
// remainder of the process but is no longer refreshed.
func (a *Auth) Close() {
	a.mu.Lock()
	if a.stopRef != nil {
		close(a.stopRef)
		a.stopRef = nil
	}
	a.mu.Unlock()
}

// adopt installs a session: access token on the transport, persisted copy in
// the key-value store, refresh timer armed.
func (a *Auth) adopt(sess *session) {
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = expiryOf(sess.AccessToken, sess.ExpiresIn)
	}

	a.mu.Lock()
	if a.stopRef != nil {
		close(a.stopRef)
	}
	a.stopRef = make(chan struct{})
	stop := a.stopRef
	a.sess = sess
	a.mu.Unlock()

	a.c.SetAccessToken(sess.AccessToken)

	if data, err := json.Marshal(sess); err == nil {
		if err := a.store.Set(context.Background(), sessionKey, data); err != nil {
			a.log.Warn().Err(err).Msg("failed to persist provider session")
		}
	}

	go a.refreshLoop(sess.ExpiresAt, stop)
}

func (a *Auth) clear() {
	a.mu.Lock()
	a.sess = nil
	if a.stopRef != nil {
		close(a.stopRef)
		a.stopRef = nil
	}
	a.mu.Unlock()

	a.c.SetAccessToken("")
	if err := a.store.Delete(context.Background(), sessionKey); err != nil {
		a.log.Warn().Err(err).Msg("failed to clear persisted provider session")
	}
}

// restore loads the persisted provider session, if any.
func (a *Auth) restore(ctx context.Context) (*session, error) {
	data, err := a.store.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load persisted session: %w", err)
	}

	var sess session
	if err := json.Unmarshal(data, &sess); err != nil {
		a.log.Warn().Err(err).Msg("discarding unreadable persisted session")
		_ = a.store.Delete(ctx, sessionKey)
		return nil, nil
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = expiryOf(sess.AccessToken, sess.ExpiresIn)
	}

	a.adopt(&sess)
	return &sess, nil
}

// refresh exchanges the refresh token for a new pair.
func (a *Auth) refresh(ctx context.Context) error {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("no session to refresh")
	}

	q := url.Values{"grant_type": []string{"refresh_token"}}
	body := map[string]string{"refresh_token": sess.RefreshToken}

	var next session
	if err := a.c.do(ctx, http.MethodPost, "/auth/v1/token", q, nil, body, &next); err != nil {
		return err
	}
	if next.User == nil {
		next.User = sess.User
	}

	a.adopt(&next)

	if user, err := next.User.domain(); err == nil {
		a.emit(EventTokenRefreshed, user)
	}
	return nil
}

func (a *Auth) refreshLoop(expiresAt time.Time, stop <-chan struct{}) {
	wait := time.Until(expiresAt) - refreshMargin
	if wait < time.Second {
		wait = time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-stop:
		return
	case <-timer.C:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.refresh(ctx); err != nil {
		a.log.Warn().Err(err).Msg("background token refresh failed")
	}
}

// expiryOf derives the access token's expiry from its JWT exp claim, falling
// back to expiresIn seconds from now. The signature is not verified here;
// the backend is the authority, this only schedules the refresh.
func expiryOf(accessToken string, expiresIn int64) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err == nil {
		if claims.ExpiresAt != nil {
			return claims.ExpiresAt.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(time.Hour)
}
