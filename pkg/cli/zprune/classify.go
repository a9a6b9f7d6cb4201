package zprune

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/config"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/prune"
	"zotregistry.dev/zprune/pkg/registry/gcloud"
	"zotregistry.dev/zprune/pkg/retention"
)

// "classify" prints the plan of a `gcloud container images list-tags --format json` snapshot.
func newClassifyCmd(conf *config.Config, configPath *string) *cobra.Command {
	image := ""
	format := prune.TableFormat

	classifyCmd := &cobra.Command{
		Use:   "classify [file]",
		Short: "`classify` prints which digests of a list-tags snapshot would be kept or deleted",
		Long: "`classify` reads the output of `gcloud container images list-tags IMAGE --format json`\n" +
			"from a file or stdin and prints which digests would be kept or deleted, without a registry.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zlog.NewConsoleLogger("info", cmd.ErrOrStderr())

			err := LoadConfiguration(conf, *configPath, cmd.Flags(), logger)
			if err == nil {
				err = classifySnapshot(cmd, conf, image, format, args)
			}

			return withTraceback(cmd.ErrOrStderr(), conf, err)
		},
		SilenceUsage: true,
	}

	classifyCmd.Flags().StringVarP(&image, "image", "i", "snapshot",
		"image name the snapshot belongs to, used to select per image policies")
	classifyCmd.Flags().StringVarP(&format, "output", "o", prune.TableFormat, "output format, one of table, json or yaml")

	return classifyCmd
}

func classifySnapshot(cmd *cobra.Command, conf *config.Config, image, format string, args []string) error {
	if format != prune.TableFormat && format != prune.JSONFormat && format != prune.YAMLFormat {
		return fmt.Errorf("%w: %q, expected one of table, json or yaml", zerr.ErrUnknownFormat, format)
	}

	var input io.Reader = cmd.InOrStdin()

	if len(args) == 1 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()

		input = file
	}

	data, err := io.ReadAll(input)
	if err != nil {
		return err
	}

	records, err := gcloud.ParseDigests(data)
	if err != nil {
		return err
	}

	logger := zlog.NewConsoleLogger(conf.Log.Level, cmd.ErrOrStderr())
	now := time.Now()

	plan, err := retention.NewPolicyManager(conf.Retention, true, logger, nil).Plan(image, records, now)
	if err != nil {
		return err
	}

	if format != prune.TableFormat {
		return prune.WritePlan(cmd.OutOrStdout(), plan, format)
	}

	reporter := prune.NewConsoleReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), false)
	reporter.Report(prune.Event{Kind: prune.ImagePlanned, Image: image, Plan: plan, DryRun: true})

	if len(plan.Delete) > 0 {
		reporter.Report(prune.Event{Kind: prune.ShowDelete, Image: image, Plan: plan, DryRun: true})
	}

	reporter.Report(prune.Event{Kind: prune.ShowKeep, Image: image, Plan: plan, DryRun: true})

	return nil
}
