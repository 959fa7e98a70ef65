package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kanjurer/foodhood/internal/store"
)

type contextKey struct{}

type Options struct {
	CookieName   string
	CookieSecure bool
	// CookieMaxAge of zero makes the cookie last for the browser session.
	CookieMaxAge time.Duration
	// IdleTTL is how long an unused coordinator stays in memory. Its state
	// remains in the store after eviction.
	IdleTTL time.Duration
	Logger  *slog.Logger
}

// Manager hands out one live Coordinator per session id.
type Manager struct {
	store store.Store
	users UserFetcher
	opts  Options
	log   *slog.Logger
	group singleflight.Group
	now   func() time.Time

	mu   sync.Mutex
	live map[string]*Coordinator
}

func NewManager(st store.Store, users UserFetcher, opts Options) *Manager {
	if opts.CookieName == "" {
		opts.CookieName = "fm_session"
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store: st,
		users: users,
		opts:  opts,
		log:   log,
		now:   time.Now,
		live:  make(map[string]*Coordinator),
	}
}

// Open returns the live coordinator for sid, restoring it from the store on
// first use. Concurrent restores of the same sid share one store read.
func (m *Manager) Open(ctx context.Context, sid string) (*Coordinator, error) {
	if c := m.lookup(sid); c != nil {
		return c, nil
	}

	v, err, _ := m.group.Do(sid, func() (any, error) {
		if c := m.lookup(sid); c != nil {
			return c, nil
		}

		c := newCoordinator(sid, m.store, m.users, m.log)
		// Shared by every waiter, so no single caller may cancel it.
		if err := c.restore(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}

		m.mu.Lock()
		c.lastUsed = m.now()
		m.live[sid] = c
		m.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Coordinator), nil
}

func (m *Manager) lookup(sid string) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.live[sid]
	if !ok {
		return nil
	}
	c.lastUsed = m.now()
	return c
}

// Resolve reads the session cookie, minting a new session id when the
// cookie is missing or malformed.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) (*Coordinator, error) {
	sid := ""
	if cookie, err := r.Cookie(m.opts.CookieName); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			sid = id.String()
		}
	}
	if sid == "" {
		sid = uuid.NewString()
		http.SetCookie(w, m.cookie(sid))
	}
	return m.Open(r.Context(), sid)
}

func (m *Manager) cookie(sid string) *http.Cookie {
	c := &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.opts.CookieMaxAge > 0 {
		c.MaxAge = int(m.opts.CookieMaxAge.Seconds())
	}
	return c
}

// Middleware attaches the request's coordinator to its context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := m.Resolve(w, r)
		if err != nil {
			m.log.Error("Failed to open session", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Session store unavailable"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCoordinator(r.Context(), c)))
	})
}

func WithCoordinator(ctx context.Context, c *Coordinator) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func FromContext(ctx context.Context) (*Coordinator, bool) {
	c, ok := ctx.Value(contextKey{}).(*Coordinator)
	return c, ok && c != nil
}

// Run evicts idle coordinators until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.opts.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.evictIdle(); n > 0 {
				m.log.Debug("Evicted idle sessions", "count", n)
			}
		}
	}
}

func (m *Manager) evictIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.opts.IdleTTL)
	n := 0
	for sid, c := range m.live {
		if c.lastUsed.Before(cutoff) && !c.busy() {
			delete(m.live, sid)
			n++
		}
	}
	return n
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}
