// Package cart computes new carts from add and remove operations.
//
// The functions never modify the cart they are given. The resulting cart is
// handed to a commit callback which owns making it visible (in memory and in
// the store).
package cart

import (
	"errors"

	"github.com/kanjurer/foodhood/internal/models"
)

type Cart []models.CartItem

// CommitFunc publishes the new cart. Its error is returned by Add and Remove.
type CommitFunc func(Cart) error

var ErrInvalidItem = errors.New("cart item needs a dish id and a quantity of at least 1")

// Add merges item into c: an entry for the same dish is replaced in place,
// otherwise item is appended.
func Add(c Cart, item models.CartItem, commit CommitFunc) (Cart, error) {
	if item.DishID == "" || item.Quantity < 1 {
		return c, ErrInvalidItem
	}

	next := make(Cart, 0, len(c)+1)
	replaced := false
	for _, existing := range c {
		if existing.DishID == item.DishID {
			next = append(next, item)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, item)
	}

	return next, commit(next)
}

// Remove drops the entry for dishID. A dish that is not in the cart leaves c
// unchanged; commit still runs with it.
func Remove(c Cart, dishID string, commit CommitFunc) (Cart, error) {
	idx := c.index(dishID)
	if idx < 0 {
		return c, commit(c)
	}

	next := make(Cart, 0, len(c)-1)
	next = append(next, c[:idx]...)
	next = append(next, c[idx+1:]...)

	return next, commit(next)
}

func (c Cart) index(dishID string) int {
	for i, item := range c {
		if item.DishID == dishID {
			return i
		}
	}
	return -1
}

func (c Cart) Find(dishID string) (models.CartItem, bool) {
	if i := c.index(dishID); i >= 0 {
		return c[i], true
	}
	return models.CartItem{}, false
}

// Count is the number of distinct dishes, which is what the nav badge shows.
func (c Cart) Count() int {
	return len(c)
}

func (c Cart) Total() float64 {
	var total float64
	for _, item := range c {
		total += item.PriceInCad * float64(item.Quantity)
	}
	return total
}

// Sanitize drops entries that could not have been produced by Add and
// collapses duplicates, keeping the last one. It is applied to carts read back
// from the store.
func Sanitize(c Cart) Cart {
	out := make(Cart, 0, len(c))
	for _, item := range c {
		if item.DishID == "" || item.Quantity < 1 {
			continue
		}
		if i := out.index(item.DishID); i >= 0 {
			out[i] = item
			continue
		}
		out = append(out, item)
	}
	return out
}
