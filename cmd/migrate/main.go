// migrate applies the embedded SQL migrations for DATABASE_DRIVER; use go run ./cmd/migrate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"security-gateway/backend/internal/config"
	"security-gateway/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	if err := migrate.Run(context.Background(), cfg.DatabaseDriver, cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
