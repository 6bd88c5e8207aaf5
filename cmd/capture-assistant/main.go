package main

import (
	"fmt"
	"os"

	"github.com/ironsheep/capture-assistant/internal/capture"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var err error
	// Global hotkeys must be registered from the main thread on macOS.
	capture.RunOnMainThread(func() {
		err = newApp().Run(os.Args)
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
