package marketplace

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kanjurer/foodhood/internal/auth"
	"github.com/kanjurer/foodhood/internal/models"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(auth.NewIssuer("test-secret", time.Hour))
	s.cost = bcrypt.MinCost
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func signup(t *testing.T, ts *httptest.Server, username string) string {
	t.Helper()
	resp := call(t, ts, http.MethodPost, "/signup", "", models.SignUpRequest{
		NameOfUser: "Alice", Username: username, Password: "pw",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d, want 201", resp.StatusCode)
	}
	var tok models.TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.Token == "" {
		t.Fatalf("signup token: %v %q", err, tok.Token)
	}
	return tok.Token
}

func TestSignupLoginAndUser(t *testing.T) {
	_, ts := newTestServer(t)
	signup(t, ts, "alice")

	if resp := call(t, ts, http.MethodPost, "/signup", "", models.SignUpRequest{NameOfUser: "A", Username: "alice", Password: "x"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate signup status = %d, want 409", resp.StatusCode)
	}

	if resp := call(t, ts, http.MethodPost, "/login", "", models.LogInRequest{Username: "alice", Password: "wrong"}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad login status = %d, want 401", resp.StatusCode)
	}

	resp := call(t, ts, http.MethodPost, "/login", "", models.LogInRequest{Username: "alice", Password: "pw"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	var tok models.TokenResponse
	_ = json.NewDecoder(resp.Body).Decode(&tok)

	resp = call(t, ts, http.MethodGet, "/user", tok.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get user status = %d", resp.StatusCode)
	}
	var user models.User
	_ = json.NewDecoder(resp.Body).Decode(&user)
	if user.Name != "Alice" || user.Username != "alice" || user.ID == "" {
		t.Errorf("user = %+v", user)
	}

	if resp := call(t, ts, http.MethodGet, "/user", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous get user status = %d, want 401", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	_, ts := newTestServer(t)
	token := signup(t, ts, "bob")

	if resp := call(t, ts, http.MethodPost, "/logout", token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", resp.StatusCode)
	}
	if resp := call(t, ts, http.MethodGet, "/user", token, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked token status = %d, want 401", resp.StatusCode)
	}
}

func TestChangeNameAndPassword(t *testing.T) {
	_, ts := newTestServer(t)
	token := signup(t, ts, "carol")

	if resp := call(t, ts, http.MethodPut, "/user/nameOfUser", token, models.EditedNameOfUser{NameOfUser: "Caroline"}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("change name status = %d", resp.StatusCode)
	}
	var user models.User
	_ = json.NewDecoder(call(t, ts, http.MethodGet, "/user", token, nil).Body).Decode(&user)
	if user.Name != "Caroline" {
		t.Errorf("name = %q, want Caroline", user.Name)
	}

	if resp := call(t, ts, http.MethodPut, "/user/password", token, models.EditedPassword{OldPassword: "nope", NewPassword: "new"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("wrong old password status = %d, want 400", resp.StatusCode)
	}
	if resp := call(t, ts, http.MethodPut, "/user/password", token, models.EditedPassword{OldPassword: "pw", NewPassword: "new"}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("change password status = %d", resp.StatusCode)
	}
	if resp := call(t, ts, http.MethodPost, "/login", "", models.LogInRequest{Username: "carol", Password: "new"}); resp.StatusCode != http.StatusOK {
		t.Errorf("login with new password status = %d", resp.StatusCode)
	}
}

func TestChefPosts(t *testing.T) {
	s, ts := newTestServer(t)
	chef := signup(t, ts, "chef")
	other := signup(t, ts, "other")

	resp := call(t, ts, http.MethodPost, "/chefPosts", chef, models.Dish{NameOfDish: "Tandoori Chicken", Cuisine: "Indian", Type: models.NonVegetarian, Quantity: 4, PriceInCad: 12.5})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created models.FoodItem
	_ = json.NewDecoder(resp.Body).Decode(&created)
	if created.ID == "" || created.ChefID == "" {
		t.Fatalf("created = %+v", created)
	}

	if resp := call(t, ts, http.MethodPost, "/chefPosts", chef, models.Dish{NameOfDish: "X", Type: "Pescatarian"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", resp.StatusCode)
	}

	var mine []models.FoodItem
	_ = json.NewDecoder(call(t, ts, http.MethodGet, "/chefPosts", chef, nil).Body).Decode(&mine)
	if len(mine) != 1 {
		t.Errorf("chef posts = %d, want 1", len(mine))
	}
	var theirs []models.FoodItem
	_ = json.NewDecoder(call(t, ts, http.MethodGet, "/chefPosts", other, nil).Body).Decode(&theirs)
	if len(theirs) != 0 {
		t.Errorf("other chef posts = %d, want 0", len(theirs))
	}

	if resp := call(t, ts, http.MethodPut, "/chefPosts/"+created.ID, other, models.Dish{NameOfDish: "Stolen"}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign update status = %d, want 404", resp.StatusCode)
	}
	if resp := call(t, ts, http.MethodPut, "/chefPosts/"+created.ID, chef, models.Dish{NameOfDish: "Butter Chicken", Type: models.NonVegetarian}); resp.StatusCode != http.StatusOK {
		t.Errorf("update status = %d", resp.StatusCode)
	}
	if foods := s.Foods(); len(foods) != 1 || foods[0].NameOfDish != "Butter Chicken" {
		t.Errorf("foods after update = %+v", foods)
	}

	if resp := call(t, ts, http.MethodDelete, "/chefPosts/"+created.ID, chef, nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if resp := call(t, ts, http.MethodGet, "/foods/"+created.ID, "", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", resp.StatusCode)
	}
}

func TestFoodsPagination(t *testing.T) {
	s, ts := newTestServer(t)
	var dishes []models.Dish
	for i := 0; i < 12; i++ {
		dishes = append(dishes, models.Dish{NameOfDish: "dish", Quantity: 1, PriceInCad: 1})
	}
	s.Seed("chef-1", dishes...)

	tests := []struct {
		query string
		want  int
	}{
		{"", 10},
		{"?page=1&limit=10", 10},
		{"?page=2&limit=10", 2},
		{"?page=3&limit=10", 0},
		{"?page=1&limit=5", 5},
	}
	for _, tt := range tests {
		var foods []models.FoodItem
		resp := call(t, ts, http.MethodGet, "/foods"+tt.query, "", nil)
		if err := json.NewDecoder(resp.Body).Decode(&foods); err != nil {
			t.Fatalf("decode %s: %v", tt.query, err)
		}
		if len(foods) != tt.want {
			t.Errorf("GET /foods%s = %d items, want %d", tt.query, len(foods), tt.want)
		}
	}
}
