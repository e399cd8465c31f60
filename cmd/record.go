package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/voicetake/internal/capture"
	"github.com/audiolibrelab/voicetake/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a voice clip from the microphone",
	Long: `Record a voice clip from the configured microphone. Recording runs
until Ctrl+C or --max-duration, then the take is finalized and stored as a
playable clip.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxDuration, _ := cmd.Flags().GetDuration("max-duration")
		playAfter, _ := cmd.Flags().GetBool("play")

		device := capture.NewMalgoDevice(slog.Default())
		svc, err := service.New(cfg, device, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		slog.Info("Requesting microphone access")
		if err := svc.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		fmt.Println("🎙️  Recording... Press Ctrl+C to stop")

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		var timeout <-chan time.Time
		if maxDuration > 0 {
			timeout = time.After(maxDuration)
		}

		select {
		case <-sigChan:
			slog.Info("Stopping recording...")
		case <-timeout:
			slog.Info("Max duration reached, stopping recording...")
		}

		if err := svc.Stop(); err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}

		// Wait for the device to flush and the take to finalize
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case clip := <-svc.RecordEnded():
			fmt.Printf("✅ Clip stored: %s (%d bytes)\n", clip.Path, clip.Size)
			fmt.Printf("   Reference: %s\n", clip.Ref)
			if playAfter {
				return svc.Play(clip.ID)
			}
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the take to finalize")
		}

		return nil
	},
}

func init() {
	recordCmd.Flags().Duration("max-duration", 0, "stop automatically after this long (0 = until Ctrl+C)")
	recordCmd.Flags().Bool("play", false, "play the clip after recording")
}
