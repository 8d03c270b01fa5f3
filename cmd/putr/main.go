// Command putr is the operator's tool for the game ledger: it uploads
// ledgers, shows results, undoes the last game, and seeds or resets the
// player store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/JonMunkholm/putr/internal/app"
	"github.com/JonMunkholm/putr/internal/config"
	"github.com/JonMunkholm/putr/internal/core"
	"github.com/JonMunkholm/putr/internal/logging"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "putr:", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = core.ContextWithActor(ctx, operator())
	ctx = core.ContextWithUserAgent(ctx, "putr-cli")

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	c := &cli{
		svc:    a.Service,
		seeder: a.Profiles,
		in:     os.Stdin,
		out:    os.Stdout,
	}
	code := c.run(ctx, os.Args[1:])
	a.Close()
	os.Exit(code)
}

// operator names the local account for audit entries.
func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
