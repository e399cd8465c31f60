package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/voicetake/internal/capture"
	"github.com/audiolibrelab/voicetake/internal/server"
	"github.com/audiolibrelab/voicetake/internal/service"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the voicetake web server to control recording via a web interface.
This allows you to record from your smartphone or any device on the same network:
start, pause, resume, and stop a take, then play it back in the browser.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		if port == "" {
			port = cfg.Server.Port
		}

		device := capture.NewMalgoDevice(slog.Default())
		svc, err := service.New(cfg, device, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		srv := server.New(svc, port)
		slog.Info("voicetake web server starting", "port", port, "config", cfgFile)

		// Start server (this blocks)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "", "port for the web server (overrides config)")
}
