package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"mediabot/internal/endpoints"

	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newSubmitCmd(client *apiClient) *cobra.Command {
	var (
		kind       string
		priority   string
		outputName string
		owner      string
	)

	cmd := &cobra.Command{
		Use:   "submit <link>",
		Short: "Submit a link for acquisition and processing",
		Args:  exactArgs(1, "a link"),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.submit(cmd.Context(), &endpoints.SubmitJobRequest{
				Link:       args[0],
				Kind:       kind,
				Priority:   priority,
				OutputName: outputName,
				OwnerID:    owner,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "job %s accepted (%s link)\n", resp.Job.ID, resp.LinkKind)
			return printJSON(resp.Job)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "job kind: download, analyze-only or full-pipeline")
	cmd.Flags().StringVar(&priority, "priority", "", "queue priority: low, normal or high")
	cmd.Flags().StringVar(&outputName, "output-name", "", "name for the final output file")
	cmd.Flags().StringVar(&owner, "owner", "", "owner identifier recorded on the job")
	return cmd
}

func newStatusCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's state, progress and children",
		Args:  exactArgs(1, "a job id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func newRetryCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-arm a failed or cancelled job",
		Args:  exactArgs(1, "a job id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.retry(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("job re-enqueued")
			return nil
		},
	}
}

func newCancelCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job at its next safe point",
		Args:  exactArgs(1, "a job id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("cancellation requested")
			return nil
		},
	}
}

func newLogsCmd(client *apiClient) *cobra.Command {
	var (
		limit    int
		afterRaw string
	)

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show a job's audit log",
		Args:  exactArgs(1, "a job id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			var after time.Time
			if afterRaw != "" {
				parsed, err := time.Parse(time.RFC3339, afterRaw)
				if err != nil {
					return &usageError{msg: fmt.Sprintf("invalid --after value %q: use RFC 3339", afterRaw)}
				}
				after = parsed
			}
			resp, err := client.logs(cmd.Context(), args[0], limit, after)
			if err != nil {
				return err
			}
			for _, entry := range resp.Entries {
				line := fmt.Sprintf("%s [%s] %s", entry.CreatedAt.Format(time.RFC3339), entry.Level, entry.Message)
				if len(entry.Details) > 0 {
					details, _ := json.Marshal(entry.Details)
					line += " " + string(details)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to fetch")
	cmd.Flags().StringVar(&afterRaw, "after", "", "only entries after this RFC 3339 timestamp")
	return cmd
}
