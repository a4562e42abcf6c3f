package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"roomwatch/internal/storage"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	_ = godotenv.Load()

	if err := storage.Migrate(os.Getenv("POSTGRES_URL"), *direction); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *direction, err)
		os.Exit(1)
	}
	fmt.Printf("migrate %s: ok\n", *direction)
}
