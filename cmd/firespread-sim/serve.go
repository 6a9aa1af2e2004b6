package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"firespread-sim/internal/backend"
	"firespread-sim/internal/store"
)

var (
	serveListen string
	serveDBPath string
	serveTick   time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reference simulation service",
	Long: "serve runs the fire spread simulation service: REST session control, " +
		"WebSocket updates and scenario storage in SQLite.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(os.Stderr)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.Server.Listen = serveListen
		}
		if cmd.Flags().Changed("db") {
			cfg.Server.DBPath = serveDBPath
		}
		if cmd.Flags().Changed("tick") {
			cfg.Server.Tick = serveTick
		}
		if logLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, cfg.Server.DBPath)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := store.ApplyMigrations(ctx, st.DB()); err != nil {
			return err
		}

		srv := backend.New(st, backend.Options{
			APIKey: cfg.API.APIKey,
			Tick:   cfg.Server.Tick,
			Logger: log,
		})
		defer srv.Close()

		log.Debug("simulation store ready", "db", cfg.Server.DBPath, "tick", cfg.Server.Tick)
		return srv.ListenAndServe(ctx, cfg.Server.Listen)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":8000", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "firespread.db", "SQLite database path (overrides config)")
	serveCmd.Flags().DurationVar(&serveTick, "tick", time.Second, "Simulation step interval (overrides config)")
}
