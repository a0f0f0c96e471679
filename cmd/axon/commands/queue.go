package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/axon-embed/axon/internal/config"
	"github.com/axon-embed/axon/internal/queue"
)

// NewQueueCmd constructs the `axon queue` command group for operators to
// inspect and manage the durable job queue without going through the
// daemon's HTTP surface.
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the durable embed job queue",
	}

	cmd.AddCommand(
		newQueueListCmd(),
		newQueueGetCmd(),
		newQueueDeleteCmd(),
	)

	return cmd
}

func openQueueStore() (*queue.Store, error) {
	dir, err := config.QueueDir()
	if err != nil {
		return nil, fmt.Errorf("queue: resolve queue dir: %w", err)
	}
	return queue.NewStore(dir)
}

func newQueueListCmd() *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueueStore()
			if err != nil {
				return err
			}

			jobs, skipped, err := store.List()
			if err != nil {
				return fmt.Errorf("queue list: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "JOB ID\tSTATUS\tRETRIES\tURL")
			for _, j := range jobs {
				if statusFilter != "" && string(j.Status) != statusFilter {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", j.JobID, j.Status, j.Retries, j.MaxRetries, j.URL)
			}
			w.Flush()

			if skipped > 0 {
				fmt.Fprintf(os.Stderr, "warning: skipped %d corrupted job file(s)\n", skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status: pending, processing, completed, failed")
	return cmd
}

func newQueueGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job's full record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueueStore()
			if err != nil {
				return err
			}

			result := store.GetDetailed(args[0])
			switch result.Status {
			case "not_found":
				return fmt.Errorf("queue get: job %q not found", args[0])
			case "corrupted":
				return fmt.Errorf("queue get: job %q is corrupted: %w", args[0], result.Err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result.Job)
		},
	}
}

func newQueueDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Remove a job record from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openQueueStore()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return fmt.Errorf("queue delete: %w", err)
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
