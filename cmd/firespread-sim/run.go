package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"firespread-sim/internal/admin"
	"firespread-sim/internal/fallback"
	"firespread-sim/internal/logging"
	"firespread-sim/internal/monitor"
	"firespread-sim/internal/scenario"
	"firespread-sim/internal/session"
	"firespread-sim/internal/sink"
	"firespread-sim/internal/transport"
)

var (
	runScenario  string
	runPrintOnly bool
	runLogFile   string
	runHeadless  bool
	runNoAdmin   bool
	runAdmin     string
	runDebugLog  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenario editor against the simulation service",
	Long: "run drives a simulation session on the remote service, falls back to local " +
		"spread when the service is lost and records every frame. With a terminal " +
		"attached it opens the interactive editor; otherwise it starts the session at once.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		interactive := !runHeadless && term.IsTerminal(int(os.Stdout.Fd()))

		logOut, closeLog, err := runLogOutput(interactive)
		if err != nil {
			return err
		}
		defer closeLog()
		log, err := newLogger(logOut)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, log)

		params := *cfg.Defaults.Parameters
		points, err := cfg.Defaults.Points(time.Now())
		if err != nil {
			return err
		}

		client := transport.New(transport.Options{
			BaseURL: cfg.API.BaseURL,
			APIKey:  cfg.API.APIKey,
			Timeout: cfg.API.Timeout,
			Logger:  log,
		})
		mon := monitor.New(client, log)
		drv := fallback.New(fallback.WithPeriod(cfg.Session.FallbackTick), fallback.WithLogger(log))
		orch := session.New(client, mon, drv, session.Config{
			MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
			ReconnectDelay:       cfg.Session.ReconnectDelay,
			Parameters:           params,
			IgnitionPoints:       points,
			Logger:               log,
		})
		defer orch.Close()

		if runScenario != "" {
			if err := applyScenarioRef(orch, runScenario); err != nil {
				return err
			}
			log.Info("scenario applied", "scenario", runScenario)
		}

		go mon.Probe(ctx)
		if spec := cfg.Session.ProbeSchedule; spec != "" {
			stopProbe, err := mon.Schedule(ctx, spec)
			if err != nil {
				return err
			}
			defer stopProbe()
		}

		var tui *sink.TUIWriter
		var extra []recorder
		if interactive {
			tui = sink.NewTUIWriter(ctx, orch)
			defer tui.Close()
			extra = append(extra, tui)
		}
		w, cleanup, err := newWriters(cfg, runPrintOnly, runLogFile, log, extra...)
		if err != nil {
			return err
		}
		defer cleanup()

		views, cancelViews := orch.Subscribe()
		defer cancelViews()
		go sink.Pump(ctx, views, w, w, log)
		if tui != nil {
			tuiViews, cancelTUI := orch.Subscribe()
			defer cancelTUI()
			go tui.Follow(ctx, tuiViews)
		}

		if !runNoAdmin {
			addr := cfg.Admin.Listen
			if runAdmin != "" {
				addr = runAdmin
			}
			srv := admin.NewServer(orch, mon, log)
			go func() {
				log.Info("admin UI listening", "addr", addr)
				if err := srv.Start(ctx, addr); err != nil {
					log.Error("admin server failed", "err", err)
					if tui != nil {
						tui.SetAdminStatus(false)
					}
				}
			}()
			if tui != nil {
				tui.SetAdminStatus(true)
			}
		}

		if !interactive {
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("start session: %w", err)
			}
		}

		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
		defer cancel()
		if orch.Phase() != session.Idle {
			if err := orch.Stop(stopCtx); err != nil {
				log.Warn("stop on shutdown failed", "err", err)
			}
		}
		log.Info("fire spread session stopped")
		return nil
	},
}

// runLogOutput keeps log lines off the terminal while the editor owns it.
func runLogOutput(interactive bool) (io.Writer, func(), error) {
	if runDebugLog != "" {
		f, err := os.OpenFile(runDebugLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}
	if interactive {
		return io.Discard, func() {}, nil
	}
	return os.Stderr, func() {}, nil
}

func applyScenarioRef(orch *session.Orchestrator, ref string) error {
	f, err := scenario.Resolve(ref)
	if err != nil {
		return err
	}
	sc, err := f.Scenario(time.Now())
	if err != nil {
		return err
	}
	return orch.ApplyScenario(sc)
}

func init() {
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Built-in preset name or scenario YAML file to start from")
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print frames to STDOUT instead of writing to DB")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Path to export frames (JSONL); status events go to <path>.status")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Never open the interactive editor and start the session immediately")
	runCmd.Flags().BoolVar(&runNoAdmin, "no-admin", false, "Do not serve the admin UI")
	runCmd.Flags().StringVar(&runAdmin, "admin", "", "Admin UI listen address (overrides config)")
	runCmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write log lines to this file instead of STDERR")
}
