package main

import (
	"context"

	config "github.com/NordCoder/Campusbell/internal/config/notify-api"
	"github.com/NordCoder/Campusbell/internal/obs"
)

func initOTel(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	closer, err := obs.SetupOTel(ctx, &cfg.OTEL)
	if err != nil {
		return nil, err
	}
	return closer.Shutdown, nil
}
