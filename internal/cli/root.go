package cli

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/bottlegate/internal/config"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	envFiles   []string
	logLevel   string
	logJSON    bool
}

// NewRootCmd creates the root bottlegate command.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "bottlegate",
		Short: "Admission control for public bottle collection submissions",
		Long: `Bottlegate screens public form submissions before they are stored.

Each submission passes a honeypot and optional CAPTCHA check, then
per-address and per-wallet quotas. Repeat offenders are denylisted
with escalating block durations.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&g.configFile, "config", "", "path to a JSON or YAML config file")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", nil, "dotenv files to load (default .env.local, .env)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "emit logs as JSON")

	root.AddCommand(
		newServeCmd(g),
		newSimulateCmd(g),
		newReplayCmd(g),
		newGenerateCmd(),
		newInitCmd(),
	)

	return root
}

// load builds the effective config: defaults, then the config file, then
// the environment, then explicitly set log flags.
func (g *globalOptions) load(cmd *cobra.Command) (config.Config, hclog.Logger, error) {
	if err := config.LoadEnvFiles(g.envFiles...); err != nil {
		return config.Config{}, nil, err
	}

	cfg := config.Default()
	if g.configFile != "" {
		loaded, err := config.LoadFile(g.configFile)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg, nil); err != nil {
		return config.Config{}, nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = g.logJSON
	}

	return cfg, newLogger(cfg.Log, cmd.ErrOrStderr()), nil
}

func newLogger(cfg config.LogConfig, out io.Writer) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "bottlegate",
		Level:      hclog.LevelFromString(cfg.Level),
		JSONFormat: cfg.JSON,
		Output:     out,
	})
}
