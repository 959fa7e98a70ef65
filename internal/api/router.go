package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kanjurer/foodhood/internal/guard"
	"github.com/kanjurer/foodhood/internal/session"
	"github.com/kanjurer/foodhood/internal/telemetry"
)

// NewRouter composes the gateway: guarded pages, session and cart actions,
// and catalog passthroughs, all behind the session middleware.
func NewRouter(h *Handler, sessions *session.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(sessions.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware(guard.Routes, sessionState))

			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, guard.HomePath, http.StatusFound)
			})
			r.Get(guard.HomePath, h.HomePage)
			r.Get("/sell", h.SellPage)
			r.Get("/profile", UserPage("profile"))
			r.Get("/checkout", h.CheckoutPage)
			r.Get("/settings", UserPage("settings"))
			r.Get(guard.LoginPath, UserPage("login"))
			r.Get(guard.SignupPath, UserPage("signup"))
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/login", h.LogIn)
			r.Post("/signup", h.SignUp)
			r.Post("/logout", h.LogOut)
			r.Get("/session", h.GetSession)
			r.Post("/session/refresh", h.RefreshSession)

			r.Get("/cart", h.GetCart)
			r.Post("/cart", h.AddToCart)
			r.Delete("/cart/{dishID}", h.RemoveFromCart)

			r.Get("/foods", h.ListFoods)
			r.Get("/foods/{id}", h.GetFood)

			r.Group(func(r chi.Router) {
				r.Use(guard.RequireUser(sessionState))

				r.Get("/chef-posts", h.ListChefPosts)
				r.Post("/chef-posts", h.CreateChefPost)
				r.Put("/chef-posts/{id}", h.UpdateChefPost)
				r.Delete("/chef-posts/{id}", h.DeleteChefPost)
				r.Put("/user/name", h.ChangeName)
				r.Put("/user/password", h.ChangePassword)
			})
		})
	})

	return r
}
