package main

import "github.com/audiolibrelab/voicetake/cmd"

func main() {
	cmd.Execute()
}
