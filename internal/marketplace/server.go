// Package marketplace is an in-memory stand-in for the marketplace REST API.
// It backs cmd/marketplace-api for local development and the gateway tests.
package marketplace

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kanjurer/foodhood/internal/auth"
	"github.com/kanjurer/foodhood/internal/models"
)

type account struct {
	user         models.User
	passwordHash []byte
}

type Server struct {
	issuer *auth.Issuer
	mw     *auth.Middleware
	cost   int

	mu         sync.RWMutex
	accounts   map[string]*account
	byUsername map[string]string
	foods      map[string]models.FoodItem
	order      []string
	revoked    map[string]struct{}
}

func NewServer(issuer *auth.Issuer) *Server {
	return &Server{
		issuer:     issuer,
		mw:         auth.NewMiddleware(issuer),
		cost:       bcrypt.DefaultCost,
		accounts:   make(map[string]*account),
		byUsername: make(map[string]string),
		foods:      make(map[string]models.FoodItem),
		revoked:    make(map[string]struct{}),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/signup", s.signup)
	r.Post("/login", s.login)
	r.Post("/logout", s.authed(s.logout))

	r.Get("/user", s.authed(s.getUser))
	r.Put("/user/nameOfUser", s.authed(s.changeName))
	r.Put("/user/password", s.authed(s.changePassword))

	r.Get("/foods", s.listFoods)
	r.Get("/foods/{id}", s.getFood)

	r.Get("/chefPosts", s.authed(s.listChefPosts))
	r.Post("/chefPosts", s.authed(s.createChefPost))
	r.Put("/chefPosts/{id}", s.authed(s.updateChefPost))
	r.Delete("/chefPosts/{id}", s.authed(s.deleteChefPost))

	return r
}

// authed rejects revoked tokens before the signature check.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	validated := s.mw.ValidateToken(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if token, ok := auth.BearerToken(r); ok {
			s.mu.RLock()
			_, revoked := s.revoked[token]
			s.mu.RUnlock()
			if revoked {
				writeError(w, http.StatusUnauthorized, "Token has been revoked")
				return
			}
		}
		validated(w, r)
	}
}

// Seed lists foods under chefID. No account is created for the chef.
func (s *Server) Seed(chefID string, foods ...models.Dish) []models.FoodItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]models.FoodItem, 0, len(foods))
	for _, dish := range foods {
		items = append(items, s.addFoodLocked(chefID, dish))
	}
	return items
}

func (s *Server) addFoodLocked(chefID string, dish models.Dish) models.FoodItem {
	item := models.FoodItem{ID: uuid.NewString(), ChefID: chefID, Dish: dish}
	s.foods[item.ID] = item
	s.order = append(s.order, item.ID)
	return item
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if !decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" || req.NameOfUser == "" {
		writeError(w, http.StatusBadRequest, "nameOfUser, username and password are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	s.mu.Lock()
	if _, taken := s.byUsername[req.Username]; taken {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "Username is already taken")
		return
	}
	acc := &account{
		user:         models.User{ID: uuid.NewString(), Name: req.NameOfUser, Username: req.Username},
		passwordHash: hash,
	}
	s.accounts[acc.user.ID] = acc
	s.byUsername[acc.user.Username] = acc.user.ID
	s.mu.Unlock()

	slog.Info("User signed up", "user_id", acc.user.ID)
	s.writeToken(w, http.StatusCreated, acc.user.ID)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req models.LogInRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.RLock()
	acc := s.accounts[s.byUsername[strings.TrimSpace(req.Username)]]
	s.mu.RUnlock()

	if acc == nil || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Wrong username or password")
		return
	}

	s.writeToken(w, http.StatusOK, acc.user.ID)
}

func (s *Server) writeToken(w http.ResponseWriter, status int, userID string) {
	token, err := s.issuer.Issue(userID)
	if err != nil {
		slog.Error("Failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, status, models.TokenResponse{Token: token})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.BearerToken(r)

	s.mu.Lock()
	s.revoked[token] = struct{}{}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentAccount(w http.ResponseWriter, r *http.Request) *account {
	s.mu.RLock()
	acc := s.accounts[auth.UserID(r.Context())]
	s.mu.RUnlock()

	if acc == nil {
		writeError(w, http.StatusUnauthorized, "Unknown user")
	}
	return acc
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	acc := s.currentAccount(w, r)
	if acc == nil {
		return
	}
	s.mu.RLock()
	user := acc.user
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, user)
}

func (s *Server) changeName(w http.ResponseWriter, r *http.Request) {
	var req models.EditedNameOfUser
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.NameOfUser) == "" {
		writeError(w, http.StatusBadRequest, "nameOfUser is required")
		return
	}
	acc := s.currentAccount(w, r)
	if acc == nil {
		return
	}

	s.mu.Lock()
	acc.user.Name = strings.TrimSpace(req.NameOfUser)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req models.EditedPassword
	if !decode(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "newPassword is required")
		return
	}
	acc := s.currentAccount(w, r)
	if acc == nil {
		return
	}

	s.mu.RLock()
	current := acc.passwordHash
	s.mu.RUnlock()
	if bcrypt.CompareHashAndPassword(current, []byte(req.OldPassword)) != nil {
		writeError(w, http.StatusBadRequest, "Old password does not match")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	s.mu.Lock()
	acc.passwordHash = hash
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFoods(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	all := make([]models.FoodItem, 0, len(s.order))
	for _, id := range s.order {
		all = append(all, s.foods[id])
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, paginate(all, r))
}

func (s *Server) getFood(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	item, ok := s.foods[chi.URLParam(r, "id")]
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Food not found")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) listChefPosts(w http.ResponseWriter, r *http.Request) {
	chefID := auth.UserID(r.Context())

	s.mu.RLock()
	var mine []models.FoodItem
	for _, id := range s.order {
		if item := s.foods[id]; item.ChefID == chefID {
			mine = append(mine, item)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, paginate(mine, r))
}

func (s *Server) createChefPost(w http.ResponseWriter, r *http.Request) {
	var dish models.Dish
	if !decode(w, r, &dish) {
		return
	}
	if err := checkDish(dish); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	item := s.addFoodLocked(auth.UserID(r.Context()), dish)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) updateChefPost(w http.ResponseWriter, r *http.Request) {
	var dish models.Dish
	if !decode(w, r, &dish) {
		return
	}
	if err := checkDish(dish); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	s.mu.Lock()
	item, ok := s.foods[id]
	if !ok || item.ChefID != auth.UserID(r.Context()) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Food not found")
		return
	}
	item.Dish = dish
	s.foods[id] = item
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, item)
}

func (s *Server) deleteChefPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	item, ok := s.foods[id]
	if !ok || item.ChefID != auth.UserID(r.Context()) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Food not found")
		return
	}
	delete(s.foods, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func checkDish(dish models.Dish) error {
	if strings.TrimSpace(dish.NameOfDish) == "" {
		return errors.New("nameOfDish is required")
	}
	switch dish.Type {
	case "", models.Vegetarian, models.NonVegetarian, models.Vegan:
		return nil
	}
	return errors.New("type must be Vegetarian, Non-Vegetarian or Vegan")
}

// paginate applies the page and limit query parameters, both 1-based and
// defaulting to the first page of ten.
func paginate(items []models.FoodItem, r *http.Request) []models.FoodItem {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	start := (page - 1) * limit
	if start >= len(items) {
		return []models.FoodItem{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Foods returns every listed food sorted by name, for inspection in tests.
func (s *Server) Foods() []models.FoodItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.FoodItem, 0, len(s.foods))
	for _, item := range s.foods {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameOfDish < out[j].NameOfDish })
	return out
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
