package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dsbench/internal/banner"
	"dsbench/internal/cli"
	"dsbench/internal/dummy"
	"dsbench/internal/runner"
	"dsbench/internal/tui"
)

const usageLine = "dsbench numberOfConnections numberOfEmitPublishes [flags]"

// errUsage marks a run that only printed usage.
var errUsage = errors.New("usage")

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(viper.New())
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errUsage) {
			return
		}
		fmt.Println("❌", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   usageLine,
		Short: "dsbench - fan-out benchmark for deepstream servers",
		Long: `
dsbench opens numberOfConnections WebSocket clients against a deepstream
server, logs each of them in and subscribes them to one event, then runs
rounds of numberOfEmitPublishes publishes from random clients until every
other client has received every publish. It reports the average round time
over the first window of rounds.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(v, args)
			if errors.Is(err, errUsage) {
				// usage is the normal answer here, so it goes to stdout
				cmd.SetOut(cmd.OutOrStdout())
				cmd.Usage()
				return errUsage
			}
			if err != nil {
				return err
			}
			return runBenchmark(cmd.Context(), cfg, v.GetBool("tui"), v.GetBool("verbose"), cmd.OutOrStdout())
		},
	}

	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), banner.GetString())
		cmd.Usage()
	})

	def := runner.DefaultConfig()
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dsbench.yaml)")

	f := root.Flags()
	f.String("url-template", def.URLTemplate, "Server URL, {addr} is replaced by the address index")
	f.Int("addresses", def.AddressCount, "Number of address indexes to rotate through")
	f.Int("per-address", def.PerAddress, "Connection attempts per address before rotating")
	f.String("event", def.EventName, "Event name, must be 9 bytes")
	f.Duration("connect-timeout", def.ConnectTimeout, "Connect timeout per attempt")
	f.Int("window", def.Window, "Rounds measured before the run stops")
	f.String("probe", def.Probe, "Readiness probe: process or none")
	f.Int("probe-port", def.ProbePort, "Port whose owning process is polled until idle")
	f.Duration("probe-interval", def.ProbeInterval, "Delay between readiness polls")
	f.String("metrics-addr", def.MetricsAddr, "Serve Prometheus metrics on this address (e.g. :9100)")
	f.Bool("tui", false, "Show the live terminal view")
	f.BoolP("verbose", "v", false, "Development logging at debug level")

	f.VisitAll(func(fl *pflag.Flag) {
		v.BindPFlag(fl.Name, fl)
	})

	root.AddCommand(newDummyCmd())
	return root
}

func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
			v.SetConfigType("yaml")
			v.SetConfigName(".dsbench")
		}
	}
	v.SetEnvPrefix("DSBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// buildConfig merges flags, env and config file over the defaults and adds
// the two positional counts.
func buildConfig(v *viper.Viper, args []string) (runner.Config, error) {
	if len(args) != 2 {
		return runner.Config{}, errUsage
	}

	cfg := runner.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return runner.Config{}, fmt.Errorf("decoding config: %w", err)
	}

	var err error
	if cfg.Connections, err = strconv.Atoi(args[0]); err != nil {
		return runner.Config{}, fmt.Errorf("numberOfConnections: %w", err)
	}
	if cfg.MessagesPerRound, err = strconv.Atoi(args[1]); err != nil {
		return runner.Config{}, fmt.Errorf("numberOfEmitPublishes: %w", err)
	}
	return cfg, cfg.Validate()
}

func newLogger(verbose, quiet bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if quiet {
		// the live view owns the terminal
		zc.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	return zc.Build()
}

func runBenchmark(ctx context.Context, cfg runner.Config, useTUI, verbose bool, out io.Writer) error {
	logger, err := newLogger(verbose, useTUI)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	updates := make(runner.StatsUpdateChan, 100)
	r := runner.NewRunner(cfg, updates, logger)

	if !useTUI {
		_, err := cli.Start(ctx, r, updates, out)
		return err
	}

	report, err := tui.Start(ctx, r, updates)
	if err != nil {
		return err
	}
	cli.PrintSummary(out, r, report)
	return nil
}

func newDummyCmd() *cobra.Command {
	var (
		port         int
		pingInterval time.Duration
		verbose      bool
	)

	dummyCmd := &cobra.Command{
		Use:   "dummy",
		Short: "Run the in-process deepstream stand-in server",
		Args:  cobra.NoArgs,
		// the root config file and env do not apply here
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(verbose, false)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer logger.Sync()

			ctx := cmd.Context()
			server := dummy.Start(ctx, dummy.ServerConfig{Port: port, PingInterval: pingInterval}, logger)
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	dummyCmd.Flags().IntVarP(&port, "port", "p", 6020, "Port to run dummy server on")
	dummyCmd.Flags().DurationVar(&pingInterval, "ping-interval", 0, "Send pings to every client at this interval")
	dummyCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Development logging at debug level")
	return dummyCmd
}
