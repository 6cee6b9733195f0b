package utils

import (
	"log"

	"github.com/joho/godotenv"
)

// LoadEnv pulls a .env file into the environment when one exists. The
// connection string and anything else configurable comes from environment
// variables; commands call this once before reading them.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️  No .env file found, continuing...")
	}
}
