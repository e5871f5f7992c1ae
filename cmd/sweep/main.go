// Command sweep runs one on-demand retention pass over a shared storage root
// and, optionally, a broker history database, then prints the deleted count.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"driftchat/internal/retention"
	"driftchat/pkg/history"
	"driftchat/pkg/logger"
	"driftchat/pkg/storage"
)

func main() {
	root := flag.String("root", "./.driftchat", "shared storage root")
	histPath := flag.String("history", "", "Pebble history DB path (optional)")
	age := flag.Duration("age", 7*24*time.Hour, "delete entries older than this")
	flag.Parse()

	logger.Init("")

	store, err := storage.Open(*root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open storage root: %v\n", err)
		os.Exit(1)
	}

	var hist *history.History
	if *histPath != "" {
		hist, err = history.Open(*histPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open history: %v\n", err)
			os.Exit(1)
		}
		defer hist.Close()
	}

	sweeper := retention.New(store, hist, *age, "")
	deleted, err := sweeper.RunOnce(time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep finished with errors: %v\n", err)
	}
	fmt.Printf("deleted %d entries older than %s\n", deleted, age.String())
	if err != nil {
		os.Exit(1)
	}
}
