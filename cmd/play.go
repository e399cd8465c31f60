package cmd

import (
	"fmt"

	"github.com/audiolibrelab/voicetake/internal/clipstore"
	"github.com/audiolibrelab/voicetake/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [clip-id]",
	Short: "Play a stored clip",
	Long:  `Play a stored clip through a local audio player. Without an argument, plays the most recent clip.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := clipstore.Open(cfg.Clips.Directory)
		if err != nil {
			return fmt.Errorf("failed to open clip store: %w", err)
		}

		var clip clipstore.Clip
		if len(args) == 1 {
			var ok bool
			clip, ok = store.Get(args[0])
			if !ok {
				return fmt.Errorf("clip not found: %s", args[0])
			}
		} else {
			clips := store.List()
			if len(clips) == 0 {
				return fmt.Errorf("no clips stored in %s", cfg.Clips.Directory)
			}
			clip = clips[0]
		}

		return play.New().Play(clip.Path)
	},
}
