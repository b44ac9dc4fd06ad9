package main

import (
	"errors"
	"fmt"
	"os"

	"mediabot/internal/config"

	"github.com/spf13/cobra"
)

// usageError distinguishes bad invocations (exit 2) from failed operations
// (exit 1).
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var uErr *usageError
		if errors.As(err, &uErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var apiURL string

	root := &cobra.Command{
		Use:           "mediabotctl",
		Short:         "Control the media-bot pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", config.APIURL, "media-bot API base URL")

	client := &apiClient{}
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		client.baseURL = apiURL
	}

	root.AddCommand(
		newSubmitCmd(client),
		newStatusCmd(client),
		newRetryCmd(client),
		newCancelCmd(client),
		newLogsCmd(client),
	)
	return root
}

func exactArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &usageError{msg: fmt.Sprintf("expected %s, got %d argument(s)", what, len(args))}
		}
		return nil
	}
}
