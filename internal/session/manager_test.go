package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kanjurer/foodhood/internal/models"
	"github.com/kanjurer/foodhood/internal/store"
)

func newTestManager(st store.Store) *Manager {
	return NewManager(st, &fakeFetcher{result: fetchResult{user: &models.User{ID: "u1", Name: "Alice"}}}, Options{
		CookieName: "fm_session",
		IdleTTL:    time.Minute,
		Logger:     discard,
	})
}

func TestResolveMintsCookie(t *testing.T) {
	m := newTestManager(store.NewMemory())

	rec := httptest.NewRecorder()
	c, err := m.Resolve(rec, httptest.NewRequest(http.MethodGet, "/home", nil))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != "fm_session" || cookie.Value != c.ID() {
		t.Errorf("cookie = %s=%s, session %s", cookie.Name, cookie.Value, c.ID())
	}
	if !cookie.HttpOnly || cookie.Path != "/" {
		t.Errorf("cookie flags: HttpOnly=%v Path=%q", cookie.HttpOnly, cookie.Path)
	}
	if _, err := uuid.Parse(c.ID()); err != nil {
		t.Errorf("session id %q is not a uuid", c.ID())
	}
}

func TestResolveReusesCookie(t *testing.T) {
	m := newTestManager(store.NewMemory())
	sid := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: "fm_session", Value: sid})
	rec := httptest.NewRecorder()

	c, err := m.Resolve(rec, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.ID() != sid {
		t.Errorf("ID = %q, want %q", c.ID(), sid)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("cookie re-issued for a known session")
	}

	again, _ := m.Resolve(httptest.NewRecorder(), req)
	if again != c {
		t.Error("second Resolve returned a different coordinator")
	}
}

func TestResolveReplacesMalformedCookie(t *testing.T) {
	m := newTestManager(store.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/home", nil)
	req.AddCookie(&http.Cookie{Name: "fm_session", Value: "../../etc/passwd"})
	rec := httptest.NewRecorder()

	c, err := m.Resolve(rec, req)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.ID() == "../../etc/passwd" {
		t.Fatal("malformed session id accepted")
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Error("no replacement cookie issued")
	}
}

func TestOpenRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sid := uuid.NewString()
	_ = store.SaveJSON(ctx, st, sid, store.SlotUser, models.User{ID: "u1", Name: "Alice"})
	_ = store.SaveJSON(ctx, st, sid, store.SlotCart, []models.CartItem{{DishID: "D1", Quantity: 2}})
	_ = store.SaveJSON(ctx, st, sid, store.SlotToken, "tok-1")

	c, err := newTestManager(st).Open(ctx, sid)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if u := c.User(); u == nil || u.Name != "Alice" {
		t.Errorf("User = %+v", u)
	}
	if got := c.Cart(); len(got) != 1 || got[0].Quantity != 2 {
		t.Errorf("Cart = %+v", got)
	}
	if c.Token() != "tok-1" {
		t.Errorf("Token = %q", c.Token())
	}
}

// countingStore counts user slot reads and fails them on demand.
type countingStore struct {
	*store.Memory
	reads atomic.Int32
	fail  bool
	delay time.Duration
}

func (s *countingStore) Get(ctx context.Context, sid string, slot store.Slot) ([]byte, error) {
	if slot == store.SlotUser {
		s.reads.Add(1)
		time.Sleep(s.delay)
	}
	if s.fail {
		return nil, errors.New("connection refused")
	}
	return s.Memory.Get(ctx, sid, slot)
}

func TestOpenCollapsesConcurrentRestores(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory(), delay: 20 * time.Millisecond}
	m := newTestManager(st)
	sid := uuid.NewString()

	var wg sync.WaitGroup
	got := make([]*Coordinator, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Open(context.Background(), sid)
			if err != nil {
				t.Errorf("Open: %v", err)
			}
			got[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range got[1:] {
		if c != got[0] {
			t.Fatal("concurrent Open returned different coordinators")
		}
	}
	if n := st.reads.Load(); n != 1 {
		t.Errorf("user slot read %d times, want 1", n)
	}
}

func TestOpenStoreFailure(t *testing.T) {
	st := &countingStore{Memory: store.NewMemory(), fail: true}
	m := newTestManager(st)

	if _, err := m.Open(context.Background(), uuid.NewString()); err == nil {
		t.Fatal("Open succeeded with a failing store")
	}
	if m.Len() != 0 {
		t.Error("failed restore was cached")
	}

	rec := httptest.NewRecorder()
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a session")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/home", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMiddlewareAttachesCoordinator(t *testing.T) {
	m := newTestManager(store.NewMemory())

	var seen *Coordinator
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		if !ok {
			t.Fatal("no coordinator in context")
		}
		seen = c
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/home", nil))

	if seen == nil {
		t.Fatal("handler not called")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext found a coordinator in an empty context")
	}
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := newTestManager(st)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	old, _ := m.Open(ctx, uuid.NewString())
	if _, err := old.AddToCart(ctx, models.CartItem{DishID: "D1", Quantity: 1}); err != nil {
		t.Fatalf("AddToCart: %v", err)
	}

	now = now.Add(50 * time.Second)
	fresh, _ := m.Open(ctx, uuid.NewString())

	now = now.Add(20 * time.Second)
	if n := m.evictIdle(); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
	if again, _ := m.Open(ctx, fresh.ID()); again != fresh {
		t.Error("fresh session was evicted")
	}

	restored, err := m.Open(ctx, old.ID())
	if err != nil {
		t.Fatalf("Open evicted: %v", err)
	}
	if restored == old {
		t.Error("evicted coordinator still live")
	}
	if restored.Cart().Count() != 1 {
		t.Error("evicted session lost its cart")
	}
}

func TestEvictIdleKeepsFetchingSessions(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{calls: make(chan chan fetchResult)}
	m := NewManager(store.NewMemory(), fetcher, Options{IdleTTL: time.Minute, Logger: discard})
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	c, _ := m.Open(ctx, uuid.NewString())
	_ = c.SetCredential(ctx, "tok-1")

	done := make(chan error, 1)
	go func() { done <- c.SetSession(ctx, true) }()
	gate := <-fetcher.calls

	now = now.Add(2 * time.Minute)
	if n := m.evictIdle(); n != 0 {
		t.Fatalf("evicted %d sessions with a fetch in flight", n)
	}

	// Signing out on the same live coordinator supersedes the fetch.
	if again, _ := m.Open(ctx, c.ID()); again != c {
		t.Fatal("coordinator replaced during fetch")
	}
	_ = c.SetSession(ctx, false)
	gate <- fetchResult{user: &models.User{ID: "u1", Name: "Alice"}}
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("fetch err = %v, want ErrSuperseded", err)
	}
	if c.SignedIn() {
		t.Error("stale fetch signed the session in")
	}

	now = now.Add(2 * time.Minute)
	if n := m.evictIdle(); n != 1 {
		t.Errorf("evicted %d after the fetch finished, want 1", n)
	}
}
