package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	prefetchproxy "github.com/always-cache/prefetch-proxy"
	"github.com/always-cache/prefetch-proxy/admin"
	"github.com/always-cache/prefetch-proxy/metrics"
)

var (
	// CLI flags
	configFilenameFlag string
	providerFlag       string
	cacheDirFlag       string
	dbFilenameFlag     string
	metricsAddrFlag    string
	noPrefetchFlag     bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

const usage = "Usage: prefetch-proxy <port>"

type usageError struct {
	err error
}

func (e usageError) Error() string {
	return e.err.Error()
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "prefetch-proxy <port>",
		Short:         "Caching HTTP forward proxy that prefetches linked resources",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{fmt.Errorf("expected 1 argument, got %d", len(args))}
			}
			if _, err := parsePort(args[0]); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			port, _ := parsePort(args[0])
			logger, err := setupLogger()
			if err != nil {
				return err
			}
			config, err := buildConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), port, config, logger)
		},
	}

	cmd.Flags().StringVar(&configFilenameFlag, "config", "", "Path to YAML or TOML config file")
	cmd.Flags().StringVar(&providerFlag, "provider", prefetchproxy.ProviderDisk, "Caching provider to use (disk, sqlite or memory)")
	cmd.Flags().StringVar(&cacheDirFlag, "cache-dir", "proxy_cache", "Cache directory of the disk provider")
	cmd.Flags().StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name of the sqlite provider (use 'memory' for in-memory db)")
	cmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "Address of the admin and metrics endpoint (disabled if empty)")
	cmd.Flags().BoolVar(&noPrefetchFlag, "no-prefetch", false, "Do not prefetch resources linked from HTML pages")
	cmd.Flags().BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	cmd.Flags().StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")
	return cmd
}

func main() {
	if version == "" {
		version = "DEV"
	}
	cmd := newCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, usage)
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.Error().Err(err).Msg("Proxy server failed")
		os.Exit(1)
	}
}

func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", arg)
	}
	return port, nil
}

func setupLogger() (zerolog.Logger, error) {
	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = zerolog.New(multiWriter).Level(logLevel).
		With().Timestamp().Str("version", version).Logger()
	return log.Logger, nil
}

// buildConfig loads the config file, if any, and applies the flags that were
// set on the command line over it.
func buildConfig(flags *pflag.FlagSet) (prefetchproxy.Config, error) {
	config := prefetchproxy.DefaultConfig()
	if configFilenameFlag != "" {
		var err error
		if config, err = prefetchproxy.LoadConfig(configFilenameFlag); err != nil {
			return config, err
		}
	}
	if flags.Changed("provider") {
		config.Provider = providerFlag
	}
	if flags.Changed("cache-dir") {
		config.CacheDir = cacheDirFlag
	}
	if flags.Changed("db") || (config.Provider == prefetchproxy.ProviderSQLite && config.DBFilename == "") {
		config.DBFilename = dbFilenameFlag
	}
	// set up sqlite memory provider
	if config.DBFilename == "memory" {
		config.DBFilename = ""
	}
	if flags.Changed("metrics-addr") {
		config.MetricsAddr = metricsAddrFlag
	}
	if noPrefetchFlag {
		config.Prefetch.Enabled = false
	}
	return config, config.Validate()
}

func serve(ctx context.Context, port int, config prefetchproxy.Config, logger zerolog.Logger) error {
	if config.MetricsAddr != "" {
		metrics.InitPrometheusMetrics()
	}
	config.Logger = &logger

	proxy, err := prefetchproxy.CreateProxy(config)
	if err != nil {
		return err
	}
	defer proxy.Close()

	// Execution group.
	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return proxy.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
		}, func(error) {
			cancel()
		})
	}
	if config.MetricsAddr != "" {
		server := &http.Server{
			Addr:    config.MetricsAddr,
			Handler: admin.NewRouter(proxy, logger.With().Str("component", "admin").Logger()),
		}
		g.Add(func() error {
			logger.Info().Str("addr", config.MetricsAddr).Msg("Admin endpoint running")
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(ctx)
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info().Str("signal", sig.Signal.String()).Msg("Stopping proxy server")
		return nil
	}
	return err
}
