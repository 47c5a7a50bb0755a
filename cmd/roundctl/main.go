package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/app"
	"github.com/radieske/prediction-rounds/internal/cli"
	"github.com/radieske/prediction-rounds/internal/shared/config"
	"github.com/radieske/prediction-rounds/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "roundctl"
	}
	// a CLI só loga avisos; a saída útil são as tabelas
	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, level)
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	env := &cli.Env{
		Out: os.Stdout,
		Open: func(ctx context.Context) (*app.Core, error) {
			return app.Wire(ctx, cfg, log, nil)
		},
	}
	if err := cli.NewRootCmd(env).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
