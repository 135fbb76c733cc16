package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"patient-intake/internal/app"
	"patient-intake/internal/config"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// ---- Components ----
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build application", "err", err)
		os.Exit(1)
	}

	lambda.Start(a.Handler.Handle)
}
