package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"

	"chant/internal/cli"
)

func main() {
	// .env is optional; GEMINI_API_KEY and CHANT_* may come from the shell.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Fatal Error: Could not load .env file: %v", err)
	}

	cli.Execute()
}
