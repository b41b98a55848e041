package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <image>",
	Short: "Submit a door photo for processing",
	Long: `Submit a door photo for processing.

Examples:
  chalkscan submit door.jpg
  chalkscan submit door.jpg --room 4-117 --semester 2026-spring
  chalkscan submit door.jpg --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")
		semester, _ := cmd.Flags().GetString("semester")
		wait, _ := cmd.Flags().GetBool("wait")

		image, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postImage(cmd.Context(), "/process", filepath.Base(args[0]), image, map[string]string{
			"roomId":   room,
			"semester": semester,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued scan %s", result["scan_id"])
		if !wait {
			return nil
		}
		return waitForScan(cmd.Context(), client, result["scan_id"])
	},
}

func init() {
	submitCmd.Flags().String("room", "", "room key for idempotent submission")
	submitCmd.Flags().String("semester", "", "semester tag for grouping")
	submitCmd.Flags().Bool("wait", false, "poll until processing finishes")
}

type scanStatus struct {
	ScanID        string `json:"scan_id"`
	Status        string `json:"status"`
	ChalkImage    string `json:"chalkImage"`
	UglifyImage   string `json:"uglifyImage"`
	PrettifyImage string `json:"prettifyImage"`
	SloppifyText  string `json:"sloppifyText"`
	ErrorMessage  string `json:"errorMessage"`
}

// waitForScan polls the scan until it reaches a terminal status, reporting
// transitions along the way.
func waitForScan(ctx context.Context, client *apiClient, scanID string) error {
	lastStatus := ""
	for {
		resp, err := client.get(ctx, "/scans/"+scanID)
		if err != nil {
			return err
		}

		var scan scanStatus
		if err := decodeJSON(resp, &scan); err != nil {
			return err
		}

		if scan.Status != lastStatus {
			printStep("Status: %s", scan.Status)
			lastStatus = scan.Status
		}

		switch scan.Status {
		case "completed":
			printSuccess("Scan complete")
			if scan.ChalkImage != "" {
				printStatus("Chalk", "%s", scan.ChalkImage)
			}
			if scan.UglifyImage != "" {
				printStatus("Uglify", "%s", scan.UglifyImage)
			}
			if scan.PrettifyImage != "" {
				printStatus("Prettify", "%s", scan.PrettifyImage)
			}
			if scan.SloppifyText != "" {
				printStatus("Sloppify", "%s", scan.SloppifyText)
			}
			return nil
		case "failed":
			printError("Scan failed: %s", scan.ErrorMessage)
			return fmt.Errorf("scan %s failed", scanID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
