package main

import (
	"clocksync/commands"
	"clocksync/config"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"
)

var version = "0.1.0-dev"

var (
	configFile string
	logLevel   string
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func loadConfig() *config.Config {
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "clocksync",
	Short: "Clock and simulation time synchronization over UDP",
	Long: `clocksync keeps the simulation clocks of distributed peers comparable.

A coordinator measures every peer's clock offset and round trip, collects the
simulation time and rate each peer declares, and broadcasts the table so every
peer can tell how far ahead or behind the others are.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setLogLevel(logLevel)
	},
	SilenceUsage: true,
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if configFile == "" {
				log.Fatal("Config file not specified")
			}
			commands.RunInit(cmd.Context(), config.NewEmptyConfig(configFile), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func newCoordinatorCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the coordinator",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			if listen != "" {
				cfg.Coordinator.Listen = listen
			}
			commands.RunCoordinator(cmd.Context(), cfg, version)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "UDP listen address, overrides coordinator.listen")
	return cmd
}

func newPeerCmd() *cobra.Command {
	var (
		coordinator string
		name        string
		tui         bool
	)
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Run a peer driven by the wall clock",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			if coordinator != "" {
				cfg.Peer.Coordinator = coordinator
			}
			if name != "" {
				cfg.Peer.Name = name
			}
			commands.RunPeer(cmd.Context(), cfg, tui, version)
		},
	}
	cmd.Flags().StringVar(&coordinator, "coordinator", "", "Coordinator host[:port], overrides peer.coordinator")
	cmd.Flags().StringVar(&name, "name", "", "Display name, overrides peer.name")
	cmd.Flags().BoolVar(&tui, "tui", false, "Show a live drift table")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "List the peers recorded in the coordinator's peer index",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			commands.RunInfo(cmd.Context(), loadConfig())
		},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level")

	rootCmd.AddCommand(newInitCmd(), newCoordinatorCmd(), newPeerCmd(), newInfoCmd())
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
