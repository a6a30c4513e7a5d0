package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"camdesk/internal/database"
	"camdesk/internal/recording"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check recording prerequisites",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ok := true
		check := func(name string, err error, detail string) {
			if err != nil {
				ok = false
				fmt.Fprintf(out, "✗ %-12s %v\n", name, err)
				return
			}
			fmt.Fprintf(out, "✓ %-12s %s\n", name, detail)
		}

		ffmpeg := recording.NewFFmpegService(recording.FFmpegOptions{
			Path:        cfg.Recording.FFmpegPath,
			Input:       cfg.Recording.WebcamURL,
			InputFormat: cfg.Recording.WebcamInputFormat,
		})

		version, err := ffmpeg.Version()
		check("ffmpeg", err, version)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		check("webcam", ffmpeg.ProbeDevice(ctx), cfg.Recording.WebcamURL)

		check("recordings", os.MkdirAll(cfg.Recording.Dir, 0o755), cfg.Recording.Dir)

		if cfg.Database.URI != "" {
			db, err := database.New(ctx, cfg.Database.URI, cfg.Database.Name)
			if err == nil {
				_ = db.Close()
			}
			check("database", err, cfg.Database.Name)
		} else {
			fmt.Fprintf(out, "- %-12s not configured, metadata kept in memory\n", "database")
		}

		check("config", cfg.Validate(), "valid")

		if !ok {
			return fmt.Errorf("some prerequisites are missing")
		}
		fmt.Fprintln(out, "\nAll prerequisites met. Ready to record!")
		return nil
	},
}
