package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/voicetake/internal/capture"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
	Long:  `List all microphone capture devices visible to the audio backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		device := capture.NewMalgoDevice(slog.Default())
		devices, err := device.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list capture devices: %w", err)
		}

		fmt.Printf("🎙️  Capture Devices (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("📋 DEVICES (%d found):\n", len(devices))
		for i, d := range devices {
			marker := ""
			if d.IsDefault {
				marker = " (default)"
			}
			fmt.Printf("  %d. %s%s\n", i+1, d.Name, marker)
			fmt.Printf("     id: %s\n", d.ID)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Configure in capture.device: either the id or the name\n")
		fmt.Printf("  • Leave capture.device empty to use the system default\n\n")

		return nil
	},
}
