package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [breaker]",
	Args:  cobra.ExactArgs(1),
	Short: "Force-close a named circuit breaker via the admin API",
	RunE:  runReset,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Args:  cobra.NoArgs,
	Short: "Flush every cache tier via the admin API",
	RunE:  runFlush,
}

func init() {
	resetCmd.Flags().String("addr", "http://localhost:8080", "coordinator base URL")
	resetCmd.Flags().String("token", "", "admin bearer token")

	flushCmd.Flags().String("addr", "http://localhost:8080", "coordinator base URL")
	flushCmd.Flags().String("token", "", "admin bearer token")
}

func runReset(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	return adminPost(addr+"/api/v1/observability/reset/"+args[0], token)
}

func runFlush(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	token, _ := cmd.Flags().GetString("token")
	return adminPost(addr+"/api/v1/observability/cache/flush", token)
}

func adminPost(url, token string) error {
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return dependencyError(fmt.Errorf("call coordinator: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator returned %d: %s", resp.StatusCode, string(body))
	}
	fmt.Println(string(body))
	return nil
}
