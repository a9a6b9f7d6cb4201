package zprune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/config"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/metrics"
	"zotregistry.dev/zprune/pkg/prune"
	"zotregistry.dev/zprune/pkg/registry"
	"zotregistry.dev/zprune/pkg/retention"
)

const pushTimeout = 10 * time.Second

// "zprune" - registry cleanup.
func NewRootCmd() *cobra.Command {
	return newRootCmd(prune.NewSurveyPrompter())
}

func newRootCmd(prompter prune.Prompter) *cobra.Command {
	showVersion := false
	configPath := ""
	conf := config.New()

	rootCmd := &cobra.Command{
		Use:   "zprune",
		Short: "`zprune` deletes old container images from a registry",
		Long: "`zprune` deletes old container images from a registry to reduce storage costs.\n" +
			"Untagged digests are deleted, digests tagged with a version or latest are kept,\n" +
			"and the remaining ones are kept while recent or among the most recently pushed.",
		Example: "  zprune --repo gcr.io/my-project --dryrun",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zlog.NewConsoleLogger("info", cmd.ErrOrStderr())

			if showVersion {
				logger.Info().Str("commit", config.Commit).Str("binary-type", config.BinaryType).
					Str("go version", config.GoVersion).Msg("version")

				return nil
			}

			err := LoadConfiguration(conf, configPath, cmd.Flags(), logger)
			if err == nil {
				err = runPrune(cmd, conf, prompter)
			}

			return withTraceback(cmd.ErrOrStderr(), conf, err)
		},
		SilenceUsage: true,
	}

	// "classify"
	rootCmd.AddCommand(newClassifyCmd(conf, &configPath))

	flags := rootCmd.Flags()
	flags.StringP("repo", "r", "",
		"specify the repository to list images for, leave blank to use the current project")
	flags.String("backend", config.DefaultBackend, "registry backend, one of gcloud, gcr, oci or ecr")
	flags.String("region", "", "aws region, only used by the ecr backend")
	flags.Bool("insecure", false, "use plain http, only used by the oci backend")
	flags.Int("concurrency", 1, "number of images checked at the same time")
	flags.Float64("delete-rate", 0, "maximum number of deletions per second, 0 means unlimited")
	flags.BoolVarP(&conf.DryRun, "dryrun", "d", false, "show what will be deleted without actually deleting anything")
	flags.BoolVarP(&conf.Yes, "yes", "y", false, "automatically respond yes to all prompts")
	flags.BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	persistent := rootCmd.PersistentFlags()
	persistent.StringVar(&configPath, "config", "", "configuration file")
	persistent.IntP("keep", "k", config.DefaultKeep, "specify the minimum number of images to keep")
	persistent.IntP("grace", "g", int(config.DefaultGrace/time.Hour),
		"minimum duration (in hours) to ignore references, e.g. images more recent than the duration will be kept")
	persistent.String("log-level", "info", "log level")
	persistent.BoolVarP(&conf.Traceback, "traceback", "T", false, "print stack trace on error")

	return rootCmd
}

func runPrune(cmd *cobra.Command, conf *config.Config, prompter prune.Prompter) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	logger, reporters := newLogger(cmd, conf, runID)

	var auditLog *zlog.Logger
	if conf.IsAuditEnabled() {
		auditLog = zlog.NewAuditLogger("info", conf.Log.Audit)
		auditLog.Logger = auditLog.With().Str("run", runID).Logger()
	}

	client, err := registry.New(ctx, conf.Registry, logger)
	if err != nil {
		logger.Error().Err(err).Str("backend", conf.Registry.Backend).Msg("failed to create registry client")

		return err
	}

	collector := metrics.NewCollector()
	policies := retention.NewPolicyManager(conf.Retention, conf.DryRun, logger, auditLog)

	reporters = append(reporters, prune.NewConsoleReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), !color.NoColor))

	runner := prune.NewRunner(client, policies, reporters, prompter, collector, prune.Options{
		Repository:  conf.Registry.Repository,
		DryRun:      conf.DryRun,
		Yes:         conf.Yes,
		Concurrency: conf.Registry.Concurrency,
		DeleteRate:  conf.Registry.DeleteRate,
	}, logger)

	_, err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr())

		err = zerr.ErrCanceledByUser
	}

	if conf.IsMetricsEnabled() {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()

		if pushErr := collector.Push(pushCtx, conf.Metrics.PushGateway, conf.Metrics.Job); pushErr != nil {
			logger.Error().Err(pushErr).Str("url", conf.Metrics.PushGateway).Msg("failed to push metrics")
		}
	}

	return err
}

// newLogger logs to the console unless a log file is configured, in which case the run is also
// reported to that file.
func newLogger(cmd *cobra.Command, conf *config.Config, runID string) (zlog.Logger, prune.Reporters) {
	if conf.Log.Output == "" {
		return zlog.NewConsoleLogger(conf.Log.Level, cmd.ErrOrStderr()), prune.Reporters{}
	}

	logger := zlog.NewLogger(conf.Log.Level, conf.Log.Output)
	logger.Logger = logger.With().Str("run", runID).Logger()

	return logger, prune.Reporters{prune.NewLogReporter(logger)}
}

func withTraceback(out io.Writer, conf *config.Config, err error) error {
	if err == nil || !conf.Traceback {
		return err
	}

	for wrapped := err; wrapped != nil; wrapped = errors.Unwrap(wrapped) {
		fmt.Fprintf(out, "%T: %s\n", wrapped, wrapped)
	}

	_, _ = out.Write(debug.Stack())

	return err
}
