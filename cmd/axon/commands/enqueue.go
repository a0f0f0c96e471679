package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axon-embed/axon/internal/config"
	"github.com/axon-embed/axon/internal/queue"
	"github.com/axon-embed/axon/internal/scrapeapi"
)

// NewEnqueueCmd constructs the `axon enqueue <url>` command: it starts a
// crawl against the scraping API and durably tracks it as a queue job so
// the daemon can pick up the embedding work once the crawl completes.
func NewEnqueueCmd() *cobra.Command {
	var limit int
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "enqueue <url>",
		Short: "Start a crawl and track it as a durable embed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetURL := args[0]

			scraper := scrapeapi.New(
				getEnvOrDefault("SCRAPE_API_URL", ""),
				getEnvOrDefault("SCRAPE_API_KEY", ""),
			)

			jobID, err := scraper.StartCrawl(cmd.Context(), scrapeapi.StartCrawlRequest{
				URL:   targetURL,
				Limit: limit,
			})
			if err != nil {
				return fmt.Errorf("enqueue: start crawl: %w", err)
			}

			queueDir, err := config.QueueDir()
			if err != nil {
				return fmt.Errorf("enqueue: resolve queue dir: %w", err)
			}
			store, err := queue.NewStore(queueDir)
			if err != nil {
				return fmt.Errorf("enqueue: open queue: %w", err)
			}

			job, err := store.Enqueue(jobID, targetURL, maxRetries)
			if err != nil {
				return fmt.Errorf("enqueue: track job: %w", err)
			}

			fmt.Printf("enqueued %s (%s), status=%s\n", job.JobID, job.URL, job.Status)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of pages to crawl (0 = scraping API default)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "Maximum embed-processing retries before the job is marked failed")

	return cmd
}
