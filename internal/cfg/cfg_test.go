package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/soctriage/internal/rag"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		APIToken:              "test-token-123",
		IndexDir:              "data/index",
		Collection:            "soc_playbooks",
		Embedder:              "ollama",
		EmbeddingURL:          "http://localhost:11434",
		EmbeddingModel:        "nomic-embed-text",
		EmbeddingDimensions:   512,
		EmbeddingTimeout:      time.Minute,
		RetrievalTopK:         4,
		NotifyMinSeverity:     "P1",
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.Collection != "soc_playbooks" {
		t.Errorf("Collection = %q, want soc_playbooks", c.Collection)
	}
	if c.Embedder != "ollama" {
		t.Errorf("Embedder = %q, want ollama", c.Embedder)
	}
	if c.RetrievalTopK != 4 {
		t.Errorf("RetrievalTopK = %d, want 4", c.RetrievalTopK)
	}
	if c.NotifyMinSeverity != "P1" {
		t.Errorf("NotifyMinSeverity = %q, want P1", c.NotifyMinSeverity)
	}
	if c.DatabaseURL != "" || c.APIToken != "" || c.SlackWebhookURL != "" {
		t.Error("optional integrations should default to disabled")
	}

	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-database-url", "postgres://u:p@db:5432/soc",
		"-collection", "runbooks",
		"-embedder", "hash",
		"-embedding-dimensions", "256",
		"-retrieval-top-k", "8",
		"-notify-min-severity", "P2",
		"-embedding-timeout", "5s",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.DatabaseURL != "postgres://u:p@db:5432/soc" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.Collection != "runbooks" {
		t.Errorf("Collection = %q, want runbooks", c.Collection)
	}

	ec := c.EmbedderConfig()
	want := rag.EmbedderConfig{
		Kind:       "hash",
		URL:        "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 256,
		Timeout:    5 * time.Second,
	}
	if ec != want {
		t.Errorf("EmbedderConfig() = %+v, want %+v", ec, want)
	}
	if c.RetrievalTopK != 8 {
		t.Errorf("RetrievalTopK = %d, want 8", c.RetrievalTopK)
	}
	if c.NotifyMinSeverity != "P2" {
		t.Errorf("NotifyMinSeverity = %q, want P2", c.NotifyMinSeverity)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "minimum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.RetrievalTopK = 1
			},
		},
		{
			name: "maximum valid values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.RetrievalTopK = 20
			},
		},
		{
			name:      "drain zero",
			mutate:    func(c *Config) { c.DrainSeconds = 0 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			mutate:    func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "budget above max",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 301 },
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.ShutdownBudgetSeconds = 60 },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:      "port above max",
			mutate:    func(c *Config) { c.APIPort = 65536 },
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:   "api token optional",
			mutate: func(c *Config) { c.APIToken = "" },
		},
		{
			name: "retrieval disabled skips embedder checks",
			mutate: func(c *Config) {
				c.IndexDir = ""
				c.Embedder = "bogus"
				c.RetrievalTopK = 0
			},
		},
		{
			name:      "unknown embedder",
			mutate:    func(c *Config) { c.Embedder = "openai" },
			wantErr:   true,
			errSubstr: []string{"EMBEDDER"},
		},
		{
			name:      "ollama needs http url",
			mutate:    func(c *Config) { c.EmbeddingURL = "localhost:11434" },
			wantErr:   true,
			errSubstr: []string{"EMBEDDING_URL"},
		},
		{
			name:      "ollama needs model",
			mutate:    func(c *Config) { c.EmbeddingModel = " " },
			wantErr:   true,
			errSubstr: []string{"EMBEDDING_MODEL"},
		},
		{
			name:      "ollama needs timeout",
			mutate:    func(c *Config) { c.EmbeddingTimeout = 0 },
			wantErr:   true,
			errSubstr: []string{"EMBEDDING_TIMEOUT"},
		},
		{
			name: "hash ignores ollama settings",
			mutate: func(c *Config) {
				c.Embedder = "hash"
				c.EmbeddingURL, c.EmbeddingModel = "", ""
			},
		},
		{
			name: "hash dimensions too small",
			mutate: func(c *Config) {
				c.Embedder = "hash"
				c.EmbeddingDimensions = 4
			},
			wantErr:   true,
			errSubstr: []string{"EMBEDDING_DIMENSIONS"},
		},
		{
			name:      "blank collection",
			mutate:    func(c *Config) { c.Collection = "" },
			wantErr:   true,
			errSubstr: []string{"COLLECTION"},
		},
		{
			name:      "top k above max",
			mutate:    func(c *Config) { c.RetrievalTopK = 21 },
			wantErr:   true,
			errSubstr: []string{"RETRIEVAL_TOP_K"},
		},
		{
			name:   "slack webhook",
			mutate: func(c *Config) { c.SlackWebhookURL = "https://hooks.slack.com/services/T/B/X" },
		},
		{
			name:      "slack webhook not a url",
			mutate:    func(c *Config) { c.SlackWebhookURL = "hooks.slack.com" },
			wantErr:   true,
			errSubstr: []string{"SLACK_WEBHOOK_URL"},
		},
		{
			name:      "lowercase severity rejected",
			mutate:    func(c *Config) { c.NotifyMinSeverity = "p2" },
			wantErr:   true,
			errSubstr: []string{"NOTIFY_MIN_SEVERITY"},
		},
		{
			name: "all fields invalid",
			mutate: func(c *Config) {
				*c = Config{IndexDir: "x"}
			},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT",
				"COLLECTION", "EMBEDDER", "RETRIEVAL_TOP_K", "NOTIFY_MIN_SEVERITY",
			},
		},
		{
			name: "extreme negative values",
			mutate: func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			},
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, topK int
		embedder, severity        string
	}{
		{60, 90, 8080, 4, "ollama", "P1"},
		{1, 2, 1, 1, "hash", "P4"},
		{299, 300, 65535, 20, "ollama", "P3"},
		{0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, "x", "P0"},
		{300, 300, 65535, 21, "hash", "P2"},
		{150, 100, 8080, 4, "ollama", "p1"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.topK, s.embedder, s.severity)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, topK int, embedder, severity string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.RetrievalTopK = topK
		c.Embedder = embedder
		c.NotifyMinSeverity = severity
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		crossOK := budget > drain
		topKOK := topK >= 1 && topK <= 20
		embedderOK := embedder == "ollama" || embedder == "hash"
		severityOK := severity == "P1" || severity == "P2" || severity == "P3" || severity == "P4"

		allValid := drainOK && budgetOK && portOK && crossOK && topKOK && embedderOK && severityOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
