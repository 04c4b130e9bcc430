// Package config loads service configuration from the environment, with
// an optional .env file for development.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string // HTTP listen address
	NATSURL     string // transport relay
	DataDir     string // local recovery store
	ContentDir  string // case documents
	DatabaseURL string // access store; empty disables the boundary check
	Dev         bool   // development logging
}

func Load() Config {
	// A missing .env simply means production-style env vars.
	_ = godotenv.Load()

	return Config{
		Addr:        getenv("SLEUTHSYNC_ADDR", ":8080"),
		NATSURL:     getenv("SLEUTHSYNC_NATS_URL", "nats://127.0.0.1:4222"),
		DataDir:     getenv("SLEUTHSYNC_DATA_DIR", "./data"),
		ContentDir:  getenv("SLEUTHSYNC_CONTENT_DIR", "./content"),
		DatabaseURL: os.Getenv("SLEUTHSYNC_DATABASE_URL"),
		Dev:         os.Getenv("SLEUTHSYNC_DEV") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
