// Command bm is the BotMinter control-plane CLI. This binary implements
// the event-triggered daemon: the webhook/poll listener that launches
// hired members in response to GitHub activity.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		var exit errExit
		if !errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, err)
			exit.code = 1
		}
		os.Exit(exit.code)
	}
}
