package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"tmfiling-backend/cmd/tmfiling/commands"
	"tmfiling-backend/lib/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	tel, err := telemetry.SetupFromEnv(ctx, "tmfiling")
	if err != nil {
		slog.Warn("telemetry disabled", "err", err)
	}

	code := commands.ExecuteContext(ctx)

	err = tel.Shutdown(context.Background())
	if err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
	stop()
	os.Exit(code)
}
