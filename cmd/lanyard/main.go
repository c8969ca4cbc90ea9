package main

import (
	"log"

	"github.com/joho/godotenv"

	"lanyard/cmd/internal/app"
)

func main() {
	// Optional .env for local development; production uses real env vars.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
