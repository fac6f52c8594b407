package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brewtap/pillsync/internal/bleadapter"
	"github.com/brewtap/pillsync/internal/groutine"
	"github.com/brewtap/pillsync/internal/meadtools"
	"github.com/brewtap/pillsync/internal/session"
	"github.com/brewtap/pillsync/pkg/config"
)

// trackCmd represents the track command
var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Track configured Pills and sync readings to MeadTools",
	Long: `Track every Pill session configured in the data file.

For each session this listens for the Pill's telemetry broadcasts, derives
gravity, temperature, battery and an ABV estimate anchored to the first
reading, and publishes data points to the configured MeadTools brew. Without
MeadTools details the sessions still run locally and readings appear in the
status table only.

Runs until interrupted; Ctrl+C ends the brews gracefully.`,
	RunE: runTrack,
}

var (
	trackDataFile       string
	trackStatusInterval time.Duration
)

func init() {
	trackCmd.Flags().StringVarP(&trackDataFile, "data", "f", "data.json", "Path to the data file (JSON or YAML)")
	trackCmd.Flags().DurationVar(&trackStatusInterval, "status-interval", 30*time.Second, "How often to print the session status table")
}

func runTrack(cmd *cobra.Command, args []string) error {
	store, err := config.Load(trackDataFile)
	if err != nil {
		return err
	}
	cfg := store.Config()

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	if len(cfg.Sessions) == 0 {
		return fmt.Errorf("no sessions configured in %s", trackDataFile)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	syncEnabled := cfg.MTDetails.SyncConfigured()

	var syncer session.Syncer
	if syncEnabled {
		syncer = meadtools.NewClient(meadtools.Options{
			BaseURL: cfg.MTDetails.BaseURL,
			Credentials: meadtools.Credentials{
				Email:    cfg.MTDetails.Email,
				Password: cfg.MTDetails.Password,
			},
			Identity: meadtools.Identity{
				DeviceToken:  cfg.MTDetails.DeviceToken,
				AccessToken:  cfg.MTDetails.AccessToken,
				RefreshToken: cfg.MTDetails.RefreshToken,
			},
			OnIdentityChange: func(id meadtools.Identity) {
				if err := store.UpdateRemote(func(r *config.Remote) {
					r.DeviceToken = id.DeviceToken
					r.AccessToken = id.AccessToken
					r.RefreshToken = id.RefreshToken
				}); err != nil {
					logger.WithError(err).Warn("Failed to persist MeadTools tokens")
				}
			},
			Logger: logger,
		})
	} else {
		logger.Info("No MeadTools details configured, tracking locally only")
	}

	registry := session.NewRegistry(logger, func(msg string) { fmt.Println(msg) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The scan window follows the most impatient session; dispatch fans the
	// advertisements back out per device.
	window := time.Duration(0)
	started := make([]string, 0, len(cfg.Sessions))
	for _, sc := range cfg.Sessions {
		handle, err := registry.Add(session.Config{
			BrewName:     sc.BrewName,
			PillName:     sc.PillName,
			MacAddress:   sc.MacAddress,
			PollInterval: sc.PollInterval(),
			Celsius:      sc.TempInCelsius(),
			RecipeID:     sc.RecipeID,
			SyncEnabled:  syncEnabled,
		}, syncer)
		if err != nil {
			return err
		}

		if err := registry.Start(ctx, handle); err != nil {
			// One broken brew should not take the rest down
			logger.WithError(err).WithField("session", handle).Error("Failed to start session")
			fmt.Fprintf(os.Stderr, "WARNING: session %q not started: %s\n", handle, FormatUserError(err))
			continue
		}
		started = append(started, handle)

		if window == 0 || sc.PollInterval() < window {
			window = sc.PollInterval()
		}
	}
	if len(started) == 0 {
		return fmt.Errorf("no session could be started")
	}

	listener := bleadapter.NewListener(window, registry.Dispatch, logger)
	listenErrCh := make(chan error, 1)
	groutine.Go(ctx, "ble-listener", func(ctx context.Context) {
		listenErrCh <- listener.Run(ctx)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(trackStatusInterval)
	defer ticker.Stop()

	printStatusTable(os.Stdout, registry)

	var runErr error
loop:
	for {
		select {
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, ending brew sessions...")
			break loop
		case err := <-listenErrCh:
			if err != nil {
				runErr = err
			}
			break loop
		case <-ticker.C:
			printStatusTable(os.Stdout, registry)
		}
	}

	cancel()
	stopSessions(registry, started, logger)
	printStatusTable(os.Stdout, registry)
	return runErr
}

func stopSessions(registry *session.Registry, handles []string, logger *logrus.Logger) {
	for _, handle := range handles {
		if err := registry.Stop(handle); err != nil {
			logger.WithError(err).WithField("session", handle).Warn("Failed to stop session")
		}
	}
}

var stateColors = map[session.State]*color.Color{
	session.StateRunning: color.New(color.FgGreen),
	session.StateStopped: color.New(color.FgYellow),
}

func printStatusTable(base io.Writer, registry *session.Registry) {
	engines := registry.List()
	if len(engines) == 0 {
		fmt.Fprintln(base, "No sessions")
		return
	}

	w := tabwriter.NewWriter(base, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BREW\tPILL\tSTATE\tSYNC\tGRAVITY\tABV\tTEMP\tBATTERY\tLAST EVENT")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, eng := range engines {
		cfg := eng.Config()
		tel := eng.Telemetry()
		state := eng.State()

		stateText := state.String()
		if c, ok := stateColors[state]; ok {
			stateText = c.Sprint(stateText)
		}

		sync := "local"
		if eng.RemoteSyncActive() {
			sync = "meadtools"
		}

		if tel.LastEvent == "" {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t-\t-\t-\t-\t-\n",
				cfg.BrewName, cfg.DisplayName(), stateText, sync)
			continue
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\t%.2f%%\t%.2f%s\t%d%%\t%s\n",
			cfg.BrewName, cfg.DisplayName(), stateText, sync,
			tel.CurrentGravity, tel.ABV, tel.Temperature, tel.TempUnit, tel.Battery, tel.LastEvent)
	}

	_ = w.Flush()
}
