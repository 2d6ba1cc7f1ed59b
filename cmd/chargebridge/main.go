package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chargebridge/chargebridge/pkg/bridge"
	"github.com/chargebridge/chargebridge/pkg/cloudapi"
	"github.com/chargebridge/chargebridge/pkg/log"
	"github.com/chargebridge/chargebridge/pkg/server"
	"github.com/chargebridge/chargebridge/pkg/statestore"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	api := cloudapi.Configured()
	st := statestore.Configured()
	b := bridge.Configured(api, st)

	// init server
	srv := server.Configured(st, b)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := st.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close state store", "error", err)
		}
	}()

	// the bridge and server run side by side until the context is canceled
	errChan := make(chan error, 2)
	go func() {
		errChan <- b.Run(ctx)
	}()
	go func() {
		errChan <- srv.Run(ctx)
	}()

	for i := 0; i < 2; i++ {
		if err := <-errChan; err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "run failed", "error", err)
			cancel()
			os.Exit(1)
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "exited cleanly")
}
