package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/Notborntodie/mlc-llm/internal/api"
	"github.com/Notborntodie/mlc-llm/internal/config"
	"github.com/Notborntodie/mlc-llm/internal/sampler"
	"github.com/Notborntodie/mlc-llm/internal/trace"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		backend     string
		configPath  string
		traceEvents bool
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the sampling REST API",
		Flags: append(commonLogFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.StringFlag{
				Name:        "backend",
				Usage:       "sampler backend (cpu)",
				Value:       string(sampler.KindCPU),
				Destination: &backend,
			},
			&cli.StringFlag{
				Name:        "config",
				Usage:       "config file path",
				Value:       config.Path(),
				Destination: &configPath,
			},
			&cli.BoolFlag{
				Name:        "trace",
				Usage:       "emit per-request trace events at debug level",
				Destination: &traceEvents,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := rootLogger()

			cfg, err := config.Load(configPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defaults, err := cfg.Resolve()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: config: %v", err), 1)
			}
			if cfg.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = cfg.ServerAddress
			}
			if cfg.Backend != "" && !cmd.IsSet("backend") {
				backend = cfg.Backend
			}

			var rec trace.Recorder
			if traceEvents {
				rec = &trace.SlogRecorder{Log: log}
			}
			s, err := sampler.New(sampler.Kind(backend), rec, log)
			if err != nil {
				// Unsupported backends are a configuration error, fatal
				// before any request is served.
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			server := api.NewServer(s, defaults, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "backend", backend)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
