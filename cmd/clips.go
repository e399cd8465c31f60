package cmd

import (
	"fmt"

	"github.com/audiolibrelab/voicetake/internal/clipstore"

	"github.com/spf13/cobra"
)

var clipsCmd = &cobra.Command{
	Use:   "clips",
	Short: "List stored clips",
	Long:  `List every stored clip with its reference, size, and creation time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := clipstore.Open(cfg.Clips.Directory)
		if err != nil {
			return fmt.Errorf("failed to open clip store: %w", err)
		}

		clips := store.List()
		if len(clips) == 0 {
			fmt.Printf("No clips stored in %s\n", cfg.Clips.Directory)
			return nil
		}

		fmt.Printf("📼 Clips (%d) in %s\n\n", len(clips), cfg.Clips.Directory)
		for _, clip := range clips {
			fmt.Printf("  %s  %8d bytes  %s\n", clip.CreatedAt.Format("2006-01-02 15:04:05"), clip.Size, clip.ID)
			fmt.Printf("    %s\n", clip.Ref)
		}
		return nil
	},
}
