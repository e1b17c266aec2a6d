// Command asrprobe tests a speech recognition service.
//
// Usage:
//
//	asrprobe [flags] framed [--test connection|synthetic|all] [--wav file] [--stress N]
//	asrprobe [flags] stream [--audio_in file] [--chunk_ms 100] [--mode 2pass]
//
// The exit code is 0 when every scenario passed and 1 otherwise.
package main

import (
	"fmt"
	"os"

	"github.com/skypro1111/asr-probe/cmd/asrprobe/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
