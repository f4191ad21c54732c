package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"chatstore/pkg/chat"
	"chatstore/pkg/models"
	"chatstore/pkg/store"
)

// Offline inspection tool: opens a chatstore pebble directory and dumps
// chat metadata or the raw event log as JSON. Run against a stopped
// server or a copy of its data directory.
func main() {
	var (
		dbPath = flag.String("db", "", "pebble store directory (required)")
		chatID = flag.String("chat", "", "chat id to dump; empty lists all chats")
		since  = flag.Uint64("since", 0, "dump events with index >= since")
		limit  = flag.Int("limit", 1000, "max events to dump")
	)
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}

	if err := store.Open(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *chatID == "" {
		ids, err := store.ListChatIDs()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list chats: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(ids)
		return
	}

	ce, err := store.LoadChat(*chatID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load chat %s: %v\n", *chatID, err)
		os.Exit(1)
	}

	v := chat.Viewer{MinVisible: 0, Privileged: true}
	out := struct {
		Meta          chat.Meta             `json:"meta"`
		LatestEvent   models.EventIndex     `json:"latest_event_index"`
		ExpiredRanges []models.ExpiredRange `json:"expired_ranges"`
		Events        []*models.Event       `json:"events"`
	}{
		Meta:          ce.Meta(),
		LatestEvent:   ce.LatestEventIndex(),
		ExpiredRanges: ce.ExpiredRanges(),
		Events:        ce.EventsSince(v, models.EventIndex(*since), *limit),
	}
	_ = enc.Encode(out)
}
