package models

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

type FoodType string

const (
	Vegetarian    FoodType = "Vegetarian"
	NonVegetarian FoodType = "Non-Vegetarian"
	Vegan         FoodType = "Vegan"
)

// Dish is the payload a chef submits when posting or editing a listing.
type Dish struct {
	NameOfDish  string   `json:"nameOfDish"`
	Cuisine     string   `json:"cuisine"`
	Type        FoodType `json:"type"`
	Ingredients string   `json:"ingredients,omitempty"`
	Allergins   string   `json:"allergins,omitempty"`
	Quantity    int      `json:"quantity"`
	PriceInCad  float64  `json:"priceInCad"`
}

// FoodItem is a listed dish as returned by the marketplace API.
type FoodItem struct {
	ID     string `json:"_id"`
	ChefID string `json:"chefId,omitempty"`
	Dish
}

type CartItem struct {
	DishID     string  `json:"dishId"`
	NameOfDish string  `json:"nameOfDish,omitempty"`
	PriceInCad float64 `json:"priceInCad"`
	Quantity   int     `json:"quantity"`
}

type LogInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	NameOfUser string `json:"nameOfUser"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type EditedNameOfUser struct {
	NameOfUser string `json:"nameOfUser"`
}

type EditedPassword struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
