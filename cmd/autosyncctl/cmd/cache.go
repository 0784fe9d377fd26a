package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"

	"autosync/pkg/models"
)

func init() {
	cacheCmd.AddCommand(cacheInspectCmd)
	cacheCmd.AddCommand(cacheDumpCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect an agent's on-disk cache",
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect [cache-path]",
	Short: "Count cache keys by kind",
	Long: `Opens the pebble cache read-only and prints a census of its keys:
conversation mirrors, the known-user roster, outbox entries, and
schema bookkeeping. Safe to run while the agent is stopped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		inspectCache(args[0])
	},
}

var cacheDumpCmd = &cobra.Command{
	Use:   "dump [cache-path] [conversation-id]",
	Short: "Print one mirrored conversation",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		dumpConversation(args[0], args[1])
	},
}

func inspectCache(path string) {
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

	total := 0
	conversations := 0
	outboxEntries := 0
	schemaKeys := 0
	rosterKeys := 0
	otherKeys := 0

	fmt.Println("Inspecting cache keys:")
	fmt.Println("=====================================")
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		total++
		switch {
		case strings.HasPrefix(key, "outbox:"):
			outboxEntries++
			if outboxEntries <= 5 {
				fmt.Printf("Outbox key %d: %s\n", outboxEntries, key)
			}
		case strings.HasPrefix(key, "schema:"):
			schemaKeys++
			fmt.Printf("Schema key: %s = %s\n", key, string(iter.Value()))
		case strings.Contains(key, "known_users"):
			rosterKeys++
			fmt.Printf("Roster key: %s\n", key)
		case strings.Contains(key, "_"):
			conversations++
			if conversations <= 5 {
				fmt.Printf("Conversation key %d: %s\n", conversations, key)
			}
		default:
			otherKeys++
			if otherKeys <= 5 {
				fmt.Printf("Other key %d: %s\n", otherKeys, key)
			}
		}
	}

	fmt.Printf("\nKey summary:\n")
	fmt.Printf("  Total keys: %d\n", total)
	fmt.Printf("  Conversation mirrors: %d\n", conversations)
	fmt.Printf("  Outbox entries: %d\n", outboxEntries)
	fmt.Printf("  Roster keys: %d\n", rosterKeys)
	fmt.Printf("  Schema keys: %d\n", schemaKeys)
	fmt.Printf("  Other keys: %d\n", otherKeys)
}

func dumpConversation(path, convID string) {
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// try the default prefix first, then any prefix ending in _<id>
	key := "autocare_messages_" + convID
	v, closer, err := db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		iter, ierr := db.NewIter(nil)
		if ierr != nil {
			log.Fatal(ierr)
		}
		defer iter.Close()
		for iter.First(); iter.Valid(); iter.Next() {
			k := string(iter.Key())
			if strings.HasSuffix(k, "_"+convID) && !strings.HasPrefix(k, "outbox:") {
				key = k
				v = append([]byte(nil), iter.Value()...)
				err = nil
				break
			}
		}
	} else if err == nil {
		v = append([]byte(nil), v...)
		_ = closer.Close()
	}
	if err != nil || v == nil {
		log.Fatalf("conversation %s not found in %s", convID, path)
	}

	var msgs []models.Message
	if jerr := json.Unmarshal(v, &msgs); jerr != nil {
		// encrypted caches dump as raw bytes only
		fmt.Printf("%s: %d bytes (not plain JSON; cache may be encrypted)\n", key, len(v))
		return
	}
	fmt.Printf("%s: %d messages\n", key, len(msgs))
	for _, m := range msgs {
		flag := " "
		if m.Pending {
			flag = "P"
		}
		fmt.Printf("  [%s] %-6s %d %s: %s\n", flag, m.Sender, m.CreatedAt, m.ID, m.Text)
	}
}
