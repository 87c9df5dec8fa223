package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/soctriage/internal/incident"
	"github.com/linnemanlabs/soctriage/internal/rag"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	APIToken              string
	RulesFile             string

	IndexDir            string
	Collection          string
	Embedder            string
	EmbeddingURL        string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbeddingTimeout    time.Duration
	RetrievalTopK       int

	SlackWebhookURL   string
	NotifyMinSeverity string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory audit store)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")
	fs.StringVar(&c.RulesFile, "rules-file", "", "YAML routing rules (empty = built-in rules)")

	fs.StringVar(&c.IndexDir, "index-dir", "data/index", "directory holding the playbook index (empty = evidence disabled)")
	fs.StringVar(&c.Collection, "collection", rag.DefaultCollection, "playbook collection name")
	fs.StringVar(&c.Embedder, "embedder", rag.EmbedderOllama, "embedding backend (ollama|hash)")
	fs.StringVar(&c.EmbeddingURL, "embedding-url", "http://localhost:11434", "Ollama-compatible embedding API base URL")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "nomic-embed-text", "embedding model name")
	fs.IntVar(&c.EmbeddingDimensions, "embedding-dimensions", rag.DefaultHashDimensions, "vector size of the hash embedder")
	fs.DurationVar(&c.EmbeddingTimeout, "embedding-timeout", 60*time.Second, "timeout of one embedding request")
	fs.IntVar(&c.RetrievalTopK, "retrieval-top-k", rag.DefaultTopK, "default number of evidence hits (1..20)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications (empty = disabled)")
	fs.StringVar(&c.NotifyMinSeverity, "notify-min-severity", string(incident.SeverityP1), "lowest severity that triggers a notification (P1..P4)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.IndexDir != "" {
		errs = append(errs, c.validateRetrieval()...)
	}

	if c.SlackWebhookURL != "" {
		if err := checkHTTPURL(c.SlackWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL: %w", err))
		}
	}
	if _, err := incident.ParseSeverity(c.NotifyMinSeverity); err != nil {
		errs = append(errs, fmt.Errorf("invalid NOTIFY_MIN_SEVERITY: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateRetrieval() []error {
	var errs []error
	if strings.TrimSpace(c.Collection) == "" {
		errs = append(errs, errors.New("COLLECTION is required when INDEX_DIR is set"))
	}
	switch c.Embedder {
	case rag.EmbedderOllama:
		if err := checkHTTPURL(c.EmbeddingURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid EMBEDDING_URL: %w", err))
		}
		if strings.TrimSpace(c.EmbeddingModel) == "" {
			errs = append(errs, errors.New("EMBEDDING_MODEL is required for the ollama embedder"))
		}
		if c.EmbeddingTimeout <= 0 {
			errs = append(errs, fmt.Errorf("invalid EMBEDDING_TIMEOUT %s (must be positive)", c.EmbeddingTimeout))
		}
	case rag.EmbedderHash:
		if c.EmbeddingDimensions < 8 || c.EmbeddingDimensions > 8192 {
			errs = append(errs, fmt.Errorf("invalid EMBEDDING_DIMENSIONS %d (must be 8..8192)", c.EmbeddingDimensions))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid EMBEDDER %q (must be ollama or hash)", c.Embedder))
	}
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 20 {
		errs = append(errs, fmt.Errorf("invalid RETRIEVAL_TOP_K %d (must be 1..20)", c.RetrievalTopK))
	}
	return errs
}

// EmbedderConfig returns the embedding settings in the form rag.NewEmbedder takes.
func (c *Config) EmbedderConfig() rag.EmbedderConfig {
	return rag.EmbedderConfig{
		Kind:       c.Embedder,
		URL:        c.EmbeddingURL,
		Model:      c.EmbeddingModel,
		Dimensions: c.EmbeddingDimensions,
		Timeout:    c.EmbeddingTimeout,
	}
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}
