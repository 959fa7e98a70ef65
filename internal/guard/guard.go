// Package guard decides whether a page may render for the current session.
package guard

import (
	"encoding/json"
	"net/http"
)

type Requirement int

const (
	None Requirement = iota
	SignedIn
	// SignedOut is the rule of the sign-in and sign-up pages: a signed-in
	// visitor is sent home instead.
	SignedOut
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
)

type Action int

const (
	Render Action = iota
	Redirect
)

type Decision struct {
	Action Action
	Target string
}

const (
	HomePath   = "/home"
	LoginPath  = "/login"
	SignupPath = "/signup"
)

// Table maps page paths to their requirement. Paths not in the table have no
// requirement.
type Table map[string]Requirement

// Routes is the static route table of the web client.
var Routes = Table{
	HomePath:    None,
	"/sell":     SignedIn,
	"/profile":  SignedIn,
	"/checkout": SignedIn,
	"/settings": SignedIn,
	LoginPath:   SignedOut,
	SignupPath:  SignedOut,
}

func (t Table) Decide(path string, state State) Decision {
	switch t[path] {
	case SignedIn:
		if state != Authenticated {
			return Decision{Action: Redirect, Target: LoginPath}
		}
	case SignedOut:
		if state == Authenticated {
			return Decision{Action: Redirect, Target: HomePath}
		}
	}
	return Decision{Action: Render}
}

// Decide applies the static route table.
func Decide(path string, state State) Decision {
	return Routes.Decide(path, state)
}

// StateFunc reports the session state of a request. It is called on every
// request; nothing is cached.
type StateFunc func(*http.Request) State

// Middleware redirects page requests the table does not allow.
func Middleware(t Table, state StateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := t.Decide(r.URL.Path, state(r))
			if d.Action == Redirect {
				http.Redirect(w, r, d.Target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser answers 401 to API requests from signed-out sessions.
func RequireUser(state StateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if state(r) != Authenticated {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Sign in required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
