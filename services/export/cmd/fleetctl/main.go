package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fleetwatch/services/export"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Utility for working with fleet dashboard snapshots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newInspectCommand())
	return cmd
}

func newExportCommand() *cobra.Command {
	var (
		server    string
		output    string
		recipient string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch the current dashboard snapshot and write it as an archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			snapshot, err := fetchSnapshot(ctx, server)
			if err != nil {
				return err
			}

			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer file.Close()

			manifest, err := export.Write(file, snapshot, export.Options{
				Server:    server,
				Recipient: recipient,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "wrote %s (%d machines, %d events, %d notifications)\n",
				output, manifest.Machines, manifest.Events, manifest.Notifications)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Base URL of the fleet dashboard (e.g. http://localhost:8080)")
	cmd.Flags().StringVar(&output, "output", "", "Destination archive file (tar.zst)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Optional age recipient to encrypt the archive to")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Snapshot fetch timeout")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Print the manifest of a snapshot archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open archive: %w", err)
			}
			defer file.Close()

			manifest, _, err := export.Read(file)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "version:       %s\n", manifest.Version)
			fmt.Fprintf(os.Stdout, "created_at:    %s\n", manifest.CreatedAt.Format(time.RFC3339))
			if manifest.Server != "" {
				fmt.Fprintf(os.Stdout, "server:        %s\n", manifest.Server)
			}
			fmt.Fprintf(os.Stdout, "machines:      %d\n", manifest.Machines)
			fmt.Fprintf(os.Stdout, "events:        %d\n", manifest.Events)
			fmt.Fprintf(os.Stdout, "notifications: %d\n", manifest.Notifications)
			return nil
		},
	}
	return cmd
}

func fetchSnapshot(ctx context.Context, server string) ([]byte, error) {
	url := strings.TrimRight(server, "/") + "/v1/snapshot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("snapshot fetch failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	return io.ReadAll(resp.Body)
}
