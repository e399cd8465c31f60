package play

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Player plays finished clips through whichever local audio player is
// installed.
type Player struct{}

func New() *Player {
	return &Player{}
}

func (p *Player) Play(audioFile string) error {
	// Check if file exists
	if _, err := os.Stat(audioFile); err != nil {
		return fmt.Errorf("audio file not found: %s", audioFile)
	}

	fmt.Printf("Playing: %s\n", audioFile)

	// Try to find available audio player
	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	var cmd *exec.Cmd
	switch player {
	case "vlc":
		cmd = exec.Command("vlc", "--play-and-exit", audioFile)
	case "mpv":
		cmd = exec.Command("mpv", "--no-video", audioFile)
	case "ffplay":
		cmd = exec.Command("ffplay", "-nodisp", "-autoexit", audioFile)
	case "aplay":
		// aplay only handles WAV
		if !strings.HasSuffix(audioFile, ".wav") {
			return fmt.Errorf("aplay requires WAV format: %s", audioFile)
		}
		cmd = exec.Command("aplay", audioFile)
	default:
		return fmt.Errorf("unsupported player: %s", player)
	}

	// Run the player
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	fmt.Println("Playback completed")
	return nil
}

func (p *Player) findAudioPlayer() (string, error) {
	// List of preferred audio players in order of preference
	players := []string{"vlc", "mpv", "ffplay", "aplay"}

	for _, player := range players {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
