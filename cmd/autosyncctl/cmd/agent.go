package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	sendCmd.Flags().String("text", "", "message text")
	sendCmd.Flags().String("to", "", "target user id (admin sessions)")
	_ = sendCmd.MarkFlagRequired("text")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(refreshCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running agent's status",
	Run: func(cmd *cobra.Command, args []string) {
		body := callAgent(cmd, http.MethodGet, "/v1/status", nil)
		printEnvelope(body)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a message through a running agent",
	Run: func(cmd *cobra.Command, args []string) {
		text, _ := cmd.Flags().GetString("text")
		to, _ := cmd.Flags().GetString("to")
		payload := map[string]any{"text": text}
		if to != "" {
			payload["recipientId"] = to
		}
		body := callAgent(cmd, http.MethodPost, "/v1/messages", payload)
		printEnvelope(body)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Trigger a reload and outbox sweep now",
	Run: func(cmd *cobra.Command, args []string) {
		body := callAgent(cmd, http.MethodPost, "/v1/refresh", nil)
		printEnvelope(body)
	},
}

func callAgent(cmd *cobra.Command, method, path string, payload any) []byte {
	base, _ := cmd.Flags().GetString("addr")
	apiKey, _ := cmd.Flags().GetString("api-key")

	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			log.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, base+path, rd)
	if err != nil {
		log.Fatal(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	hc := &http.Client{Timeout: 15 * time.Second}
	resp, err := hc.Do(req)
	if err != nil {
		log.Fatalf("agent unreachable at %s: %v", base, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		log.Fatal(err)
	}
	if resp.StatusCode >= 400 {
		log.Fatalf("agent returned %d: %s", resp.StatusCode, string(body))
	}
	return body
}

func printEnvelope(body []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty.String())
}
