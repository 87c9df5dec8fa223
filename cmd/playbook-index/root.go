package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/soctriage/internal/rag"
	"github.com/linnemanlabs/soctriage/internal/rag/sqliteindex"
)

const appName = "playbook-index"

// envPrefix matches the server so both read the same index settings.
const envPrefix = "SOCTRIAGE"

// settings are the resolved flag, env and config file values shared by all
// subcommands.
type settings struct {
	IndexDir   string
	Collection string
	Embedder   rag.EmbedderConfig
}

func (s settings) validate() error {
	var errs []error
	if s.IndexDir == "" {
		errs = append(errs, errors.New("index-dir is required"))
	}
	if strings.TrimSpace(s.Collection) == "" {
		errs = append(errs, errors.New("collection is required"))
	}
	return errors.Join(errs...)
}

// cli holds the state built by the root command before a subcommand runs.
type cli struct {
	v       *viper.Viper
	cfgFile string
	logCfg  log.Config
	logger  log.Logger
}

func newRootCmd(vp *viper.Viper) *cobra.Command {
	c := &cli{v: vp}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Build and search the soctriage playbook index",
		Version:       v.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.cfgFile, "config", "c", "", "optional config file (yaml, json or toml)")
	pf.String("index-dir", "data/index", "directory holding the playbook index")
	pf.String("collection", rag.DefaultCollection, "playbook collection name")
	pf.String("embedder", rag.EmbedderOllama, "embedding backend (ollama|hash)")
	pf.String("embedding-url", "http://localhost:11434", "Ollama-compatible embedding API base URL")
	pf.String("embedding-model", "nomic-embed-text", "embedding model name")
	pf.Int("embedding-dimensions", rag.DefaultHashDimensions, "vector size of the hash embedder")
	pf.Duration("embedding-timeout", 60*time.Second, "timeout of one embedding request")

	// go-core log flags share the persistent flag set
	goFlags := flag.NewFlagSet(appName, flag.ContinueOnError)
	c.logCfg.RegisterFlags(goFlags)
	pf.AddGoFlagSet(goFlags)

	root.AddCommand(newIngestCmd(c), newSearchCmd(c))
	return root
}

// load reads the optional config file, binds env and flags into viper and
// pushes values for flags not set on the command line back into the flag
// set, so config file and env feed go-core's flag-based log config too.
func (c *cli) load(cmd *cobra.Command) error {
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("load config %s: %w", c.cfgFile, err)
		}
	}

	if err := bindFlags(c.v, cmd.Flags()); err != nil {
		return err
	}

	if err := c.logCfg.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	lg, err := log.New(c.logCfg.ToOptions(appName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	c.logger = lg.With("component", cmd.Name())
	cmd.SetContext(log.WithContext(cmd.Context(), c.logger))
	return nil
}

func bindFlags(vp *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" || f.Name == "version" {
			return
		}
		if err := vp.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, err)
			return
		}
		if !f.Changed && vp.IsSet(f.Name) {
			if err := fs.Set(f.Name, vp.GetString(f.Name)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			}
		}
	})
	return errors.Join(errs...)
}

func (c *cli) settings() (settings, error) {
	s := settings{
		IndexDir:   c.v.GetString("index-dir"),
		Collection: c.v.GetString("collection"),
		Embedder: rag.EmbedderConfig{
			Kind:       c.v.GetString("embedder"),
			URL:        c.v.GetString("embedding-url"),
			Model:      c.v.GetString("embedding-model"),
			Dimensions: c.v.GetInt("embedding-dimensions"),
			Timeout:    c.v.GetDuration("embedding-timeout"),
		},
	}
	return s, s.validate()
}

// open builds the embedder and opens the index named by s.
func (c *cli) open(s settings) (rag.Embedder, *sqliteindex.Index, error) {
	embedder, err := rag.NewEmbedder(s.Embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}
	index, err := sqliteindex.Open(s.IndexDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open index: %w", err)
	}
	return embedder, index, nil
}
