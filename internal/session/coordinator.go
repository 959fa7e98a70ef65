// Package session holds the signed-in user and cart of each browser session.
//
// A Coordinator is the only way to change a session. Every change is written
// to the store before the in-memory copy is updated, so a restored session
// always reflects the latest known state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kanjurer/foodhood/internal/cart"
	"github.com/kanjurer/foodhood/internal/models"
	"github.com/kanjurer/foodhood/internal/services"
	"github.com/kanjurer/foodhood/internal/store"
	"github.com/kanjurer/foodhood/internal/telemetry"
)

// UserFetcher resolves the identity behind a backend token.
type UserFetcher interface {
	GetAuthenticatedUser(ctx context.Context, token string) (*models.User, error)
}

// ErrSuperseded is returned by SetSession when another state change happened
// while the identity fetch was in flight. The fetch result is dropped.
var ErrSuperseded = errors.New("session changed during identity fetch")

type Coordinator struct {
	id    string
	store store.Store
	users UserFetcher
	log   *slog.Logger

	mu       sync.Mutex
	gen      uint64
	fetching int
	user     *models.User
	cart     cart.Cart
	token    string

	// guarded by Manager.mu
	lastUsed time.Time
}

func newCoordinator(id string, st store.Store, users UserFetcher, log *slog.Logger) *Coordinator {
	return &Coordinator{
		id:    id,
		store: st,
		users: users,
		log:   log.With("session_id", id),
	}
}

func (c *Coordinator) ID() string {
	return c.id
}

// Initialize reads the persisted user. Absent or undecodable records yield
// nil.
func (c *Coordinator) Initialize(ctx context.Context) *models.User {
	user, err := c.loadUser(ctx)
	if err != nil {
		c.log.Warn("Ignoring persisted user", "error", err)
		return nil
	}
	return user
}

// loadUser treats a persisted null as absent and a record without an id as
// corrupt.
func (c *Coordinator) loadUser(ctx context.Context) (*models.User, error) {
	var user *models.User
	found, err := store.LoadJSON(ctx, c.store, c.id, store.SlotUser, &user)
	if err != nil || !found || user == nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("load %s: %w: missing id", store.SlotUser, store.ErrCorrupt)
	}
	return user, nil
}

// restore loads all slots. Corrupt slots fall back to their empty value;
// other store errors are returned.
func (c *Coordinator) restore(ctx context.Context) error {
	user, err := c.loadUser(ctx)
	if err != nil && !errors.Is(err, store.ErrCorrupt) {
		return err
	}
	if err != nil {
		c.log.Warn("Discarding corrupt user record", "error", err)
	}

	var items cart.Cart
	if _, err := store.LoadJSON(ctx, c.store, c.id, store.SlotCart, &items); err != nil {
		if !errors.Is(err, store.ErrCorrupt) {
			return err
		}
		c.log.Warn("Discarding corrupt cart record", "error", err)
		items = nil
	}

	var token string
	if _, err := store.LoadJSON(ctx, c.store, c.id, store.SlotToken, &token); err != nil {
		if !errors.Is(err, store.ErrCorrupt) {
			return err
		}
		c.log.Warn("Discarding corrupt token record", "error", err)
		token = ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
	c.cart = cart.Sanitize(items)
	c.token = token
	return nil
}

// busy reports an identity fetch in flight. Such a coordinator must stay
// live so later calls can still supersede the fetch.
func (c *Coordinator) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching > 0
}

func (c *Coordinator) User() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

func (c *Coordinator) SignedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user != nil
}

func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Coordinator) Cart() cart.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(cart.Cart, len(c.cart))
	copy(out, c.cart)
	return out
}

// SetCredential stores the backend token used by later identity fetches.
// An empty token clears it.
func (c *Coordinator) SetCredential(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token == "" {
		if err := c.store.Delete(ctx, c.id, store.SlotToken); err != nil {
			return fmt.Errorf("clear token: %w", err)
		}
	} else if err := store.SaveJSON(ctx, c.store, c.id, store.SlotToken, token); err != nil {
		return err
	}
	c.token = token
	return nil
}

// SetSession signs the session in by fetching the identity behind the stored
// token, or signs it out. Only the latest call's outcome is applied.
//
// A failed fetch leaves the session signed out and returns the cause
// (services.ErrNetworkFailure, services.ErrAuthRejected or a store error).
// Callers log it; it is never fatal.
func (c *Coordinator) SetSession(ctx context.Context, login bool) error {
	// The outcome is applied even when the requesting client went away.
	ctx = context.WithoutCancel(ctx)

	c.mu.Lock()
	c.gen++
	gen := c.gen

	if !login {
		defer c.mu.Unlock()
		return c.signOutLocked(ctx)
	}

	token := c.token
	c.fetching++
	c.mu.Unlock()

	user, err := c.users.GetAuthenticatedUser(ctx, token)
	if err == nil && (user == nil || user.ID == "") {
		err = fmt.Errorf("%w: empty identity", services.ErrAuthRejected)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetching--

	if gen != c.gen {
		c.log.Info("Discarding superseded identity fetch")
		telemetry.RecordSessionTransition(telemetry.OutcomeSuperseded)
		return ErrSuperseded
	}

	if err != nil {
		slots := []store.Slot{store.SlotUser}
		outcome := telemetry.OutcomeNetworkFailure
		if errors.Is(err, services.ErrAuthRejected) {
			// A rejected token will not get better.
			slots = append(slots, store.SlotToken)
			c.token = ""
			outcome = telemetry.OutcomeRejected
		}
		c.clearLocked(ctx, slots...)
		c.user = nil

		c.log.Warn("Identity fetch failed, session signed out", "error", err)
		telemetry.RecordSessionTransition(outcome)
		return err
	}

	if err := store.SaveJSON(ctx, c.store, c.id, store.SlotUser, user); err != nil {
		c.clearLocked(ctx, store.SlotUser)
		c.user = nil

		c.log.Error("Failed to persist user, session signed out", "error", err)
		telemetry.RecordSessionTransition(telemetry.OutcomeStoreFailure)
		return err
	}

	c.user = user
	c.log.Info("Session signed in", "user_id", user.ID)
	telemetry.RecordSessionTransition(telemetry.OutcomeSignedIn)
	return nil
}

func (c *Coordinator) signOutLocked(ctx context.Context) error {
	var errs []error
	for _, slot := range []store.Slot{store.SlotUser, store.SlotToken} {
		if err := c.store.Delete(ctx, c.id, slot); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", slot, err))
		}
	}
	// Memory is cleared even when the store is not, the user asked to leave.
	c.user = nil
	c.token = ""

	c.log.Info("Session signed out")
	telemetry.RecordSessionTransition(telemetry.OutcomeSignedOut)
	return errors.Join(errs...)
}

func (c *Coordinator) clearLocked(ctx context.Context, slots ...store.Slot) {
	for _, slot := range slots {
		if err := c.store.Delete(ctx, c.id, slot); err != nil {
			c.log.Error("Failed to clear slot", "slot", slot, "error", err)
		}
	}
}

func (c *Coordinator) commitLocked(ctx context.Context) cart.CommitFunc {
	return func(next cart.Cart) error {
		if err := store.SaveJSON(ctx, c.store, c.id, store.SlotCart, next); err != nil {
			return err
		}
		c.cart = next
		return nil
	}
}

func (c *Coordinator) AddToCart(ctx context.Context, item models.CartItem) (cart.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := cart.Add(c.cart, item, c.commitLocked(ctx))
	if err != nil {
		return nil, err
	}
	telemetry.RecordCartOperation("add")
	return next, nil
}

func (c *Coordinator) RemoveFromCart(ctx context.Context, dishID string) (cart.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := cart.Remove(c.cart, dishID, c.commitLocked(ctx))
	if err != nil {
		return nil, err
	}
	telemetry.RecordCartOperation("remove")
	return next, nil
}
