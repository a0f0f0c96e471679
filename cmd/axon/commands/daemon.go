package commands

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/axon-embed/axon/internal/config"
	"github.com/axon-embed/axon/internal/daemon"
	"github.com/axon-embed/axon/internal/logging"
	"github.com/axon-embed/axon/internal/pipeline"
	"github.com/axon-embed/axon/internal/queue"
	"github.com/axon-embed/axon/internal/scrapeapi"
	"github.com/axon-embed/axon/internal/tei"
	"github.com/axon-embed/axon/internal/vectorstore"
)

// NewDaemonCmd constructs the `axon daemon` command, which runs the
// background webhook ingress and sweeper described in spec §4.5.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the axon embedding daemon (webhook ingress + sweeper)",
		Long: `Run the background daemon that turns completed crawls into embeddings.

The daemon binds an HTTP webhook endpoint the scraping API posts crawl
completions to, and runs a periodic sweeper that recovers stuck jobs and
retries stale pending ones even if no webhook ever arrives.

Required environment:
  TEI_URL              Text-embedding-inference base URL
  QDRANT_URL            Qdrant gRPC endpoint, host:port
  SCRAPE_API_URL        Scraping API base URL

Optional:
  QDRANT_COLLECTION     Destination collection name (default "axon")
  AXON_WEBHOOK_SECRET, AXON_WEBHOOK_PORT, AXON_WEBHOOK_PATH,
  AXON_EMBEDDER_BIND_ADDRESS, AXON_EMBEDDER_QUEUE_DIR,
  AXON_EMBEDDER_STALE_MINUTES, QDRANT_API_KEY, QDRANT_TLS, SCRAPE_API_KEY`,
		RunE: runDaemon,
	}
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New()

	teiURL := os.Getenv("TEI_URL")
	qdrantURL := os.Getenv("QDRANT_URL")
	collection := getEnvOrDefault("QDRANT_COLLECTION", "axon")
	scrapeAPIURL := os.Getenv("SCRAPE_API_URL")

	teiClient := tei.New(teiURL)

	host, port, err := splitHostPort(qdrantURL, 6334)
	if err != nil && qdrantURL != "" {
		return fmt.Errorf("daemon: parse QDRANT_URL: %w", err)
	}
	store, err := vectorstore.New(vectorstore.Config{
		Host:   host,
		Port:   port,
		APIKey: os.Getenv("QDRANT_API_KEY"),
		UseTLS: os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return fmt.Errorf("daemon: connect to qdrant: %w", err)
	}
	defer store.Close()

	embedPipeline := pipeline.New(teiClient, store, collection)

	scraper := scrapeapi.New(scrapeAPIURL, os.Getenv("SCRAPE_API_KEY"))

	queueDir, err := config.QueueDir()
	if err != nil {
		return fmt.Errorf("daemon: resolve queue dir: %w", err)
	}
	jobStore, err := queue.NewStore(queueDir)
	if err != nil {
		return fmt.Errorf("daemon: open queue: %w", err)
	}
	jobStore.Logger = log

	staleMinutes := getEnvInt("AXON_EMBEDDER_STALE_MINUTES", 10)

	d, err := daemon.New(jobStore, scraper, &daemon.PipelineEmbedder{Pipeline: embedPipeline}, daemon.Config{
		BindAddress: os.Getenv("AXON_EMBEDDER_BIND_ADDRESS"),
		Port:        getEnvInt("AXON_WEBHOOK_PORT", 0),
		WebhookPath: os.Getenv("AXON_WEBHOOK_PATH"),
		Secret:      os.Getenv("AXON_WEBHOOK_SECRET"),
		StaleAfter:  time.Duration(staleMinutes) * time.Minute,
		TEIURL:      teiURL,
		QdrantURL:   qdrantURL,
		Collection:  collection,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("daemon: construct: %w", err)
	}

	if os.Getenv("AXON_WEBHOOK_SECRET") == "" {
		log.Warn("daemon: no AXON_WEBHOOK_SECRET configured, generated one for this run",
			slog.String("secret", d.Secret()),
		)
	}

	log.Info("daemon: starting", slog.String("queue_dir", queueDir), slog.String("collection", collection))
	return d.Start(ctx)
}

// splitHostPort parses "host:port" into its parts, defaulting port when
// absent. Used for QDRANT_URL, which this codebase treats as a gRPC
// endpoint rather than an HTTP URL.
func splitHostPort(addr string, defaultPort int) (string, int, error) {
	if addr == "" {
		return "", defaultPort, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort, nil //nolint:nilerr // bare host, no port given
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
