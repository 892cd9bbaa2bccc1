package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/listycity/internal/cliconfig"
	"github.com/bft-labs/listycity/pkg/listy"
	"github.com/bft-labs/listycity/pkg/log"
)

const helpDescription = `
Keep a list of cities in sync with a shared document collection.

Highlights:
  - Watches a collection and reprints the list on every change.
  - Adds, deletes and edits cities from the command line or an interactive shell.
  - Stores collections in a directory, SQLite, PostgreSQL, or behind a
    WebSocket collection server started with "listycity serve".
`

var exampleUsage = strings.TrimSpace(`
  listycity watch --dir ~/cities
  listycity add Regina SK --store sqlite --dsn ~/.listycity/listycity.db
  listycity serve --store postgres --dsn postgres://localhost/listy --listen :8080
  listycity shell --store ws --url http://localhost:8080
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli holds state shared by all subcommands.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	logger  *log.ZerologAdapter
	out     io.Writer
	in      io.Reader
}

func main() {
	c := &cli{
		cfg:    cliconfig.DefaultConfig(),
		logger: log.NewZerologAdapter(),
		out:    os.Stdout,
		in:     os.Stdin,
	}

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := c.rootCommand().ExecuteContext(ctx); err != nil {
		c.logger.Error("listycity", log.Err(err))
		cancel()
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "listycity",
		Short:             "Keep a list of cities in sync with a shared document collection",
		Long:              strings.TrimSpace(helpDescription),
		Example:           exampleUsage,
		Version:           fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return c.loadConfig(cmd) },
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.listycity/config.toml)")
	flags.StringVar(&c.cfg.Store, "store", c.cfg.Store, "collection store: memory, fs, sqlite, postgres or ws")
	flags.StringVar(&c.cfg.Collection, "collection", c.cfg.Collection, "collection name")
	flags.StringVar(&c.cfg.Dir, "dir", c.cfg.Dir, "collection directory for the fs store (default: $HOME/.listycity/collections/<collection>)")
	flags.StringVar(&c.cfg.DSN, "dsn", c.cfg.DSN, "sqlite database path or postgres connection string")
	flags.StringVar(&c.cfg.URL, "url", c.cfg.URL, "collection server base URL for the ws store")
	flags.DurationVar(&c.cfg.PollInterval, "poll", c.cfg.PollInterval, "change poll interval for the sqlite store")
	flags.DurationVar(&c.cfg.Debounce, "debounce", c.cfg.Debounce, "delay between file events and a reload for the fs store")
	flags.BoolVar(&c.cfg.PersistEdits, "persist-edits", c.cfg.PersistEdits, "write edited cities to the store")
	flags.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level: debug, info, warn or error")
	flags.StringVar(&c.cfg.MetricsAddr, "metrics-addr", c.cfg.MetricsAddr, "serve Prometheus metrics at this address (disabled when empty)")

	root.AddCommand(
		c.watchCommand(),
		c.listCommand(),
		c.addCommand(),
		c.deleteCommand(),
		c.shellCommand(),
		c.serveCommand(),
	)
	return root
}

// loadConfig applies the config file and LISTYCITY_* variables under the
// flags the user set, then validates.
func (c *cli) loadConfig(cmd *cobra.Command) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}

	if err := c.cfg.Validate(); err != nil {
		return err
	}

	logger, err := log.NewZerologAdapterWithLevel(c.cfg.LogLevel)
	if err != nil {
		return err
	}
	c.logger = logger

	// Postgres DSNs may carry a password.
	logCfg := c.cfg
	if logCfg.Store == cliconfig.DriverPostgres {
		logCfg.DSN = "*****"
	}
	zl := logger.Logger()
	zl.Debug().Interface("config", logCfg).Msg("configuration")
	return nil
}

// libConfig converts the CLI configuration to the library's.
func (c *cli) libConfig() listy.Config {
	return listy.Config{
		Store:        c.cfg.Store,
		Collection:   c.cfg.Collection,
		Dir:          c.cfg.Dir,
		DSN:          c.cfg.DSN,
		URL:          c.cfg.URL,
		PollInterval: c.cfg.PollInterval,
		Debounce:     c.cfg.Debounce,
		PersistEdits: c.cfg.PersistEdits,
	}
}
