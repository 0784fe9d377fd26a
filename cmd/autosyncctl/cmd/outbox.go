package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"

	"autosync/pkg/outbox"
)

func init() {
	rootCmd.AddCommand(outboxCmd)
}

var outboxCmd = &cobra.Command{
	Use:   "outbox [cache-path]",
	Short: "List durable unsynced sends",
	Long: `Reads the pebble cache read-only and prints every outbox entry:
messages the agent accepted but the backend has not yet acknowledged.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listOutbox(args[0])
	},
}

func listOutbox(path string) {
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	iter, err := db.NewIter(nil)
	if err != nil {
		log.Fatal(err)
	}
	defer iter.Close()

	count := 0
	for iter.SeekGE([]byte("outbox:")); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		if len(key) < 7 || key[:7] != "outbox:" {
			break
		}
		var e outbox.Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			fmt.Printf("%s: undecodable (%v)\n", key, err)
			continue
		}
		count++
		next := time.UnixMilli(e.NextAttempt).Format(time.RFC3339)
		fmt.Printf("%s  conv=%s attempts=%d next=%s\n", e.ID, e.ConversationID, e.Attempts, next)
		fmt.Printf("    %s\n", e.Text)
		if e.LastError != "" {
			fmt.Printf("    last error: %s\n", e.LastError)
		}
	}
	if count == 0 {
		fmt.Println("outbox is empty")
		return
	}
	fmt.Printf("\n%d unsynced message(s)\n", count)
}
