package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/ppiankov/legiscrape/internal/cli"

	// jurisdiction modules register themselves
	_ "github.com/ppiankov/legiscrape/internal/jurisdictions/ma"
)

func main() {
	// credentials may live in a .env file next to the working directory
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
