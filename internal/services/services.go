package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kanjurer/foodhood/internal/models"
	"github.com/kanjurer/foodhood/internal/resilience"
)

const PageSize = 10

var (
	// ErrNetworkFailure means the call could not complete: transport errors,
	// server errors after retries, or an open circuit breaker.
	ErrNetworkFailure = errors.New("marketplace api unreachable")
	// ErrAuthRejected means the call completed and the backend denied the
	// credential.
	ErrAuthRejected = errors.New("marketplace api rejected credentials")
)

// APIError is any other non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bad status code: %d", e.Status)
	}
	return fmt.Sprintf("bad status code: %d: %s", e.Status, e.Message)
}

type MarketplaceClient struct {
	baseURL    string
	client     *http.Client
	attempts   int
	retryDelay time.Duration
	catalogCB  *resilience.CircuitBreaker
}

func NewMarketplaceClient(baseURL string, timeout time.Duration) *MarketplaceClient {
	return &MarketplaceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		attempts:   3,
		retryDelay: 500 * time.Millisecond,
		catalogCB:  resilience.NewCircuitBreaker(3, 10*time.Second),
	}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (s *MarketplaceClient) do(ctx context.Context, method, path, token string, body, target any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempts := 1
	if idempotent(method) {
		attempts = s.attempts
	}

	err := resilience.Retry(ctx, attempts, s.retryDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return resilience.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return resilience.Permanent(fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode))
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error: %d", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return resilience.Permanent(readAPIError(resp))
		}

		if target == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return resilience.Permanent(fmt.Errorf("%w: decode response: %v", ErrNetworkFailure, err))
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrNetworkFailure) || errors.As(err, &apiErr) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", ErrNetworkFailure, method, path, err)
}

func readAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var body models.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// catalog runs public catalog reads through the circuit breaker. Only
// network failures count against it.
func (s *MarketplaceClient) catalog(fn func() error) error {
	var callErr error
	err := s.catalogCB.Execute(func() error {
		callErr = fn()
		if errors.Is(callErr, ErrNetworkFailure) {
			return callErr
		}
		return nil
	})
	if errors.Is(err, resilience.ErrOpen) {
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	return callErr
}

func pageQuery(page int) string {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(PageSize))
	return q.Encode()
}

// GetAuthenticatedUser resolves the identity behind token.
func (s *MarketplaceClient) GetAuthenticatedUser(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no token", ErrAuthRejected)
	}
	var user *models.User
	if err := s.do(ctx, http.MethodGet, "/user", token, nil, &user); err != nil {
		return nil, err
	}
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("%w: no identity behind token", ErrAuthRejected)
	}
	return user, nil
}

func (s *MarketplaceClient) Login(ctx context.Context, creds models.LogInRequest) (string, error) {
	var res models.TokenResponse
	if err := s.do(ctx, http.MethodPost, "/login", "", creds, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

func (s *MarketplaceClient) Signup(ctx context.Context, req models.SignUpRequest) (string, error) {
	var res models.TokenResponse
	if err := s.do(ctx, http.MethodPost, "/signup", "", req, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

func (s *MarketplaceClient) Logout(ctx context.Context, token string) error {
	return s.do(ctx, http.MethodPost, "/logout", token, nil, nil)
}

func (s *MarketplaceClient) ChangeNameOfUser(ctx context.Context, token string, edit models.EditedNameOfUser) error {
	return s.do(ctx, http.MethodPut, "/user/nameOfUser", token, edit, nil)
}

func (s *MarketplaceClient) ChangePasswordOfUser(ctx context.Context, token string, edit models.EditedPassword) error {
	return s.do(ctx, http.MethodPut, "/user/password", token, edit, nil)
}

func (s *MarketplaceClient) GetFoods(ctx context.Context, page int) ([]models.FoodItem, error) {
	var foods []models.FoodItem
	err := s.catalog(func() error {
		return s.do(ctx, http.MethodGet, "/foods?"+pageQuery(page), "", nil, &foods)
	})
	if err != nil {
		return nil, err
	}
	return foods, nil
}

func (s *MarketplaceClient) GetFoodItem(ctx context.Context, id string) (*models.FoodItem, error) {
	var food models.FoodItem
	err := s.catalog(func() error {
		return s.do(ctx, http.MethodGet, "/foods/"+url.PathEscape(id), "", nil, &food)
	})
	if err != nil {
		return nil, err
	}
	return &food, nil
}

func (s *MarketplaceClient) GetChefFoods(ctx context.Context, token string, page int) ([]models.FoodItem, error) {
	var foods []models.FoodItem
	if err := s.do(ctx, http.MethodGet, "/chefPosts?"+pageQuery(page), token, nil, &foods); err != nil {
		return nil, err
	}
	return foods, nil
}

func (s *MarketplaceClient) PostChefFood(ctx context.Context, token string, dish models.Dish) (*models.FoodItem, error) {
	var food models.FoodItem
	if err := s.do(ctx, http.MethodPost, "/chefPosts", token, dish, &food); err != nil {
		return nil, err
	}
	return &food, nil
}

func (s *MarketplaceClient) UpdateChefFood(ctx context.Context, token, id string, dish models.Dish) (*models.FoodItem, error) {
	var food models.FoodItem
	if err := s.do(ctx, http.MethodPut, "/chefPosts/"+url.PathEscape(id), token, dish, &food); err != nil {
		return nil, err
	}
	return &food, nil
}

func (s *MarketplaceClient) DeleteChefFood(ctx context.Context, token, id string) error {
	return s.do(ctx, http.MethodDelete, "/chefPosts/"+url.PathEscape(id), token, nil, nil)
}
