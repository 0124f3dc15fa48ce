// Command ohlcvshm shares a candle table between processes through shared
// memory.
//
//	ohlcvshm produce --input candles.parquet --readers 4
//	ohlcvshm read --handle @/tmp/ohlcv.handle
//	ohlcvshm inspect --admin-url http://127.0.0.1:8089
//	ohlcvshm sweep
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srediag/ohlcv-shm/pkg/config"
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

const (
	exitSuccess = 0
	exitError   = 1
)

var logger = shm.NewLogger("ohlcvshm", os.Stderr)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// cli carries the loaded config from the root command to its subcommands.
type cli struct {
	configPath string
	dir        string
	prefix     string
	validate   bool
	logLevel   int

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "ohlcvshm",
		Short:         "Share a candle table between processes through shared memory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", os.Getenv("OHLCV_SHM_CONFIG"), "YAML config file")
	flags.StringVar(&c.dir, "dir", "", "segment directory (default /dev/shm)")
	flags.StringVar(&c.prefix, "prefix", "", "segment name prefix")
	flags.BoolVar(&c.validate, "validate", false, "check the symbol index on build and attach")
	flags.IntVar(&c.logLevel, "log-level", shm.LevelWarn, "0 trace, 1 debug, 2 info, 3 warn, 4 error, 5 silent")

	root.AddCommand(
		newProduceCmd(c),
		newReadCmd(c),
		newInspectCmd(c),
		newSweepCmd(c),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("dir") {
		cfg.SegmentDir = c.dir
	}
	if flags.Changed("prefix") {
		cfg.SegmentPrefix = c.prefix
	}
	if flags.Changed("validate") {
		cfg.Validate = c.validate
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if err := config.VerifyConfig(cfg); err != nil {
		return err
	}
	shm.SetLogLevel(cfg.LogLevel)
	c.cfg = cfg
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ohlcvshm:", err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
