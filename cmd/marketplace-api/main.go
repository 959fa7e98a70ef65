package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kanjurer/foodhood/internal/auth"
	"github.com/kanjurer/foodhood/internal/config"
	"github.com/kanjurer/foodhood/internal/marketplace"
	"github.com/kanjurer/foodhood/internal/models"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	server := marketplace.NewServer(auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL))
	seeded := server.Seed("seed-chef",
		models.Dish{NameOfDish: "Butter Chicken", Cuisine: "Indian", Type: models.NonVegetarian, Ingredients: "chicken, butter, tomato", Quantity: 10, PriceInCad: 14},
		models.Dish{NameOfDish: "Chana Masala", Cuisine: "Indian", Type: models.Vegan, Ingredients: "chickpeas, onion", Quantity: 8, PriceInCad: 11},
		models.Dish{NameOfDish: "Margherita", Cuisine: "Italian", Type: models.Vegetarian, Ingredients: "flour, mozzarella, basil", Allergins: "gluten, dairy", Quantity: 6, PriceInCad: 16},
	)

	addr := fmt.Sprintf(":%s", cfg.MarketplacePort)
	slog.Info("Marketplace API listening", "addr", addr, "foods", len(seeded))

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
