package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"camdesk/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "camdesk",
	Short: "Webcam recording and remote playback control",
	Long: `camdesk records a single webcam feed with ffmpeg (at most 15 minutes per
recording) and lets an operator drive playback of finished recordings on
connected players over server-sent events or websockets.

Without a subcommand it runs the HTTP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		// hash-password is used to produce config values
		if cmd.Name() == "hash-password" {
			return nil
		}

		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (default is $CAMDESK_CONFIG)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with source locations")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch {
	case level == 1:
		opts.Level = slog.LevelDebug
	case level >= 2:
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
