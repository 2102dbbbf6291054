// Package config loads relay settings from the environment, with .env
// support for local development.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string        `env:"ADDR" envDefault:":8080"`
	DatabaseURL string        `env:"DATABASE_URL"` // empty means in-memory listings
	ListingTTL  time.Duration `env:"LISTING_TTL" envDefault:"2h"`
	Debug       bool          `env:"DEBUG" envDefault:"false"`
}

func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
