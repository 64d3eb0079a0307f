package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/poimport/internal/apperr"
	"github.com/JonMunkholm/poimport/internal/cli"
)

func main() {
	// A .env file fills in settings the environment does not already carry.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		if apperr.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, "error:", apperr.FormatUserError(err))
			fmt.Fprintln(os.Stderr, "  detail:", err)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		stop()
		os.Exit(1)
	}
}
