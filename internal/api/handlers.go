package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kanjurer/foodhood/internal/cart"
	"github.com/kanjurer/foodhood/internal/guard"
	"github.com/kanjurer/foodhood/internal/models"
	"github.com/kanjurer/foodhood/internal/services"
	"github.com/kanjurer/foodhood/internal/session"
	"github.com/kanjurer/foodhood/internal/store"
)

// Marketplace is the subset of the marketplace API the gateway calls.
type Marketplace interface {
	session.UserFetcher
	Login(ctx context.Context, creds models.LogInRequest) (string, error)
	Signup(ctx context.Context, req models.SignUpRequest) (string, error)
	Logout(ctx context.Context, token string) error
	ChangeNameOfUser(ctx context.Context, token string, edit models.EditedNameOfUser) error
	ChangePasswordOfUser(ctx context.Context, token string, edit models.EditedPassword) error
	GetFoods(ctx context.Context, page int) ([]models.FoodItem, error)
	GetFoodItem(ctx context.Context, id string) (*models.FoodItem, error)
	GetChefFoods(ctx context.Context, token string, page int) ([]models.FoodItem, error)
	PostChefFood(ctx context.Context, token string, dish models.Dish) (*models.FoodItem, error)
	UpdateChefFood(ctx context.Context, token, id string, dish models.Dish) (*models.FoodItem, error)
	DeleteChefFood(ctx context.Context, token, id string) error
}

type Handler struct {
	svc     Marketplace
	limiter store.RateLimiter
}

// NewHandler builds the gateway handlers. limiter may be nil, which turns
// login rate limiting off.
func NewHandler(svc Marketplace, limiter store.RateLimiter) *Handler {
	return &Handler{
		svc:     svc,
		limiter: limiter,
	}
}

type SessionView struct {
	User           *models.User `json:"user"`
	Cart           cart.Cart    `json:"cart"`
	CartItemNumber int          `json:"cartItemNumber"`
}

type CartView struct {
	Cart           cart.Cart `json:"cart"`
	CartItemNumber int       `json:"cartItemNumber"`
	Total          float64   `json:"total"`
}

type PageView struct {
	Page           string            `json:"page"`
	User           *models.User      `json:"user"`
	CartItemNumber int               `json:"cartItemNumber"`
	PageNumber     int               `json:"pageNumber,omitempty"`
	Foods          []models.FoodItem `json:"foods,omitempty"`
	Cart           cart.Cart         `json:"cart,omitempty"`
	Total          float64           `json:"total,omitempty"`
}

type addToCartRequest struct {
	DishID   string `json:"dishId"`
	Quantity int    `json:"quantity"`
}

func coordinator(r *http.Request) *session.Coordinator {
	c, ok := session.FromContext(r.Context())
	if !ok {
		// The router always installs the session middleware first.
		panic("api: request without session")
	}
	return c
}

// sessionState reads the guard state from the request's coordinator.
func sessionState(r *http.Request) guard.State {
	if c, ok := session.FromContext(r.Context()); ok && c.SignedIn() {
		return guard.Authenticated
	}
	return guard.Unauthenticated
}

func sessionView(c *session.Coordinator) SessionView {
	items := c.Cart()
	return SessionView{User: c.User(), Cart: items, CartItemNumber: items.Count()}
}

func cartView(items cart.Cart) CartView {
	if items == nil {
		items = cart.Cart{}
	}
	return CartView{Cart: items, CartItemNumber: items.Count(), Total: items.Total()}
}

func pageNumber(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		slog.Error("JSON marshal error", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(responseBytes)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

// backendError maps a marketplace failure to a response. A rejected token
// means the session is stale, so it is refreshed (and usually signed out).
func (h *Handler) backendError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *services.APIError
	switch {
	case errors.Is(err, services.ErrAuthRejected):
		c := coordinator(r)
		if refreshErr := c.SetSession(r.Context(), true); refreshErr != nil {
			slog.Info("Session refresh after rejection", "session_id", c.ID(), "error", refreshErr)
		}
		writeError(w, http.StatusUnauthorized, "Session expired, sign in again")
	case errors.Is(err, services.ErrNetworkFailure):
		slog.Error("Marketplace unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, "Marketplace unavailable")
	case errors.As(err, &apiErr) && apiErr.Status < 500:
		writeError(w, apiErr.Status, apiErr.Message)
	default:
		slog.Error("Marketplace call failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return false
	}
	ip := clientIP(r)
	if h.limiter.IsRateLimited(r.Context(), "login:"+ip) {
		slog.Warn("Rate limit exceeded", "ip", ip)
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return true
	}
	return false
}

// Pages

func (h *Handler) HomePage(w http.ResponseWriter, r *http.Request) {
	c := coordinator(r)
	page := pageNumber(r)

	foods, err := h.svc.GetFoods(r.Context(), page)
	if err != nil {
		slog.Warn("Foods fallback", "page", page, "error", err)
		foods = []models.FoodItem{}
	}

	writeJSON(w, http.StatusOK, PageView{
		Page:           "home",
		User:           c.User(),
		CartItemNumber: c.Cart().Count(),
		PageNumber:     page,
		Foods:          foods,
	})
}

func (h *Handler) SellPage(w http.ResponseWriter, r *http.Request) {
	c := coordinator(r)
	page := pageNumber(r)

	foods, err := h.svc.GetChefFoods(r.Context(), c.Token(), page)
	switch {
	case errors.Is(err, services.ErrAuthRejected):
		if refreshErr := c.SetSession(r.Context(), true); refreshErr != nil {
			slog.Info("Session refresh after rejection", "session_id", c.ID(), "error", refreshErr)
		}
		if !c.SignedIn() {
			http.Redirect(w, r, guard.LoginPath, http.StatusFound)
			return
		}
		foods = []models.FoodItem{}
	case err != nil:
		slog.Warn("Chef foods fallback", "session_id", c.ID(), "error", err)
		foods = []models.FoodItem{}
	}

	writeJSON(w, http.StatusOK, PageView{
		Page:           "sell",
		User:           c.User(),
		CartItemNumber: c.Cart().Count(),
		PageNumber:     page,
		Foods:          foods,
	})
}

func (h *Handler) CheckoutPage(w http.ResponseWriter, r *http.Request) {
	c := coordinator(r)
	items := c.Cart()

	writeJSON(w, http.StatusOK, PageView{
		Page:           "checkout",
		User:           c.User(),
		CartItemNumber: items.Count(),
		Cart:           items,
		Total:          items.Total(),
	})
}

// UserPage serves pages whose view is the session alone.
func UserPage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := coordinator(r)
		writeJSON(w, http.StatusOK, PageView{
			Page:           name,
			User:           c.User(),
			CartItemNumber: c.Cart().Count(),
		})
	}
}

// Session actions

func (h *Handler) LogIn(w http.ResponseWriter, r *http.Request) {
	if h.rateLimited(w, r) {
		return
	}
	var creds models.LogInRequest
	if !decode(w, r, &creds) {
		return
	}

	token, err := h.svc.Login(r.Context(), creds)
	if errors.Is(err, services.ErrAuthRejected) {
		writeError(w, http.StatusUnauthorized, "Wrong username or password")
		return
	}
	if err != nil {
		h.backendError(w, r, err)
		return
	}

	h.startSession(w, r, token, http.StatusOK)
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	if h.rateLimited(w, r) {
		return
	}
	var req models.SignUpRequest
	if !decode(w, r, &req) {
		return
	}

	token, err := h.svc.Signup(r.Context(), req)
	if err != nil {
		h.backendError(w, r, err)
		return
	}

	h.startSession(w, r, token, http.StatusCreated)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, token string, status int) {
	c := coordinator(r)

	if err := c.SetCredential(r.Context(), token); err != nil {
		slog.Error("Failed to store credential", "session_id", c.ID(), "error", err)
		writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
		return
	}

	err := c.SetSession(r.Context(), true)
	switch {
	case err == nil:
		writeJSON(w, status, sessionView(c))
	case errors.Is(err, session.ErrSuperseded):
		writeError(w, http.StatusConflict, "Session changed during sign in")
	case errors.Is(err, services.ErrAuthRejected):
		writeError(w, http.StatusUnauthorized, "Sign in was not accepted")
	case errors.Is(err, services.ErrNetworkFailure):
		writeError(w, http.StatusBadGateway, "Marketplace unavailable")
	default:
		writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
	}
}

func (h *Handler) LogOut(w http.ResponseWriter, r *http.Request) {
	c := coordinator(r)

	if token := c.Token(); token != "" {
		if err := h.svc.Logout(r.Context(), token); err != nil {
			slog.Warn("Backend logout failed", "session_id", c.ID(), "error", err)
		}
	}
	if err := c.SetSession(r.Context(), false); err != nil {
		slog.Error("Sign out incomplete", "session_id", c.ID(), "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionView(coordinator(r)))
}

// RefreshSession re-fetches the identity. Failures only sign the session
// out; the response is the resulting state either way.
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	c := coordinator(r)
	if err := c.SetSession(r.Context(), true); err != nil {
		slog.Info("Session refresh failed", "session_id", c.ID(), "error", err)
	}
	writeJSON(w, http.StatusOK, sessionView(c))
}

// Cart actions

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cartView(coordinator(r).Cart()))
}

// AddToCart prices the item from the catalog; clients only send the dish and
// the quantity.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	c := coordinator(r)

	var req addToCartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.DishID == "" || req.Quantity < 1 {
		writeError(w, http.StatusBadRequest, cart.ErrInvalidItem.Error())
		return
	}

	food, err := h.svc.GetFoodItem(r.Context(), req.DishID)
	if err != nil {
		h.backendError(w, r, err)
		return
	}
	if food.Quantity < 1 {
		writeError(w, http.StatusConflict, "Sold out")
		return
	}
	if req.Quantity > food.Quantity {
		writeError(w, http.StatusConflict, fmt.Sprintf("Only %d left in stock", food.Quantity))
		return
	}

	items, err := c.AddToCart(r.Context(), models.CartItem{
		DishID:     food.ID,
		NameOfDish: food.NameOfDish,
		PriceInCad: food.PriceInCad,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.cartError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, cartView(items))
}

func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	c := coordinator(r)

	items, err := c.RemoveFromCart(r.Context(), chi.URLParam(r, "dishID"))
	if err != nil {
		h.cartError(w, c, err)
		return
	}
	writeJSON(w, http.StatusOK, cartView(items))
}

func (h *Handler) cartError(w http.ResponseWriter, c *session.Coordinator, err error) {
	if errors.Is(err, cart.ErrInvalidItem) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Error("Failed to save cart", "session_id", c.ID(), "error", err)
	writeError(w, http.StatusServiceUnavailable, "Session store unavailable")
}

// Catalog passthroughs

func (h *Handler) ListFoods(w http.ResponseWriter, r *http.Request) {
	foods, err := h.svc.GetFoods(r.Context(), pageNumber(r))
	if err != nil {
		h.backendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, foods)
}

func (h *Handler) GetFood(w http.ResponseWriter, r *http.Request) {
	food, err := h.svc.GetFoodItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.backendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, food)
}

// Signed-in actions

func (h *Handler) ListChefPosts(w http.ResponseWriter, r *http.Request) {
	foods, err := h.svc.GetChefFoods(r.Context(), coordinator(r).Token(), pageNumber(r))
	if err != nil {
		h.backendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, foods)
}

func (h *Handler) CreateChefPost(w http.ResponseWriter, r *http.Request) {
	var dish models.Dish
	if !decode(w, r, &dish) {
		return
	}
	food, err := h.svc.PostChefFood(r.Context(), coordinator(r).Token(), dish)
	if err != nil {
		h.backendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, food)
}

func (h *Handler) UpdateChefPost(w http.ResponseWriter, r *http.Request) {
	var dish models.Dish
	if !decode(w, r, &dish) {
		return
	}
	food, err := h.svc.UpdateChefFood(r.Context(), coordinator(r).Token(), chi.URLParam(r, "id"), dish)
	if err != nil {
		h.backendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, food)
}

func (h *Handler) DeleteChefPost(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteChefFood(r.Context(), coordinator(r).Token(), chi.URLParam(r, "id")); err != nil {
		h.backendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangeName(w http.ResponseWriter, r *http.Request) {
	var edit models.EditedNameOfUser
	if !decode(w, r, &edit) {
		return
	}
	c := coordinator(r)
	if err := h.svc.ChangeNameOfUser(r.Context(), c.Token(), edit); err != nil {
		h.backendError(w, r, err)
		return
	}
	h.RefreshSession(w, r)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var edit models.EditedPassword
	if !decode(w, r, &edit) {
		return
	}
	c := coordinator(r)
	if err := h.svc.ChangePasswordOfUser(r.Context(), c.Token(), edit); err != nil {
		h.backendError(w, r, err)
		return
	}
	h.RefreshSession(w, r)
}
