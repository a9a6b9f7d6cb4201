package prune

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"zotregistry.dev/zprune/pkg/retention/types"
)

const (
	spinnerDuration = 150 * time.Millisecond
	// TimestampFormat is the layout digests push time is printed with.
	TimestampFormat = "2006-01-02 15:04:05-07:00"
)

type spinnerState struct {
	spinner *spinner.Spinner
	enabled bool
}

func (spinner *spinnerState) startSpinner() {
	if spinner.enabled {
		spinner.spinner.Start()
	}
}

func (spinner *spinnerState) stopSpinner() {
	if spinner.enabled && spinner.spinner.Active() {
		spinner.spinner.Stop()
	}
}

// ConsoleReporter prints the progress of a run for a human operator.
type ConsoleReporter struct {
	out     io.Writer
	now     func() time.Time
	spinner spinnerState

	yellow *color.Color
	green  *color.Color
	red    *color.Color
}

func NewConsoleReporter(out, errOut io.Writer, showSpinner bool) *ConsoleReporter {
	spin := spinner.New(spinner.CharSets[39], spinnerDuration, spinner.WithWriter(errOut))

	return &ConsoleReporter{
		out:     out,
		now:     time.Now,
		spinner: spinnerState{spinner: spin, enabled: showSpinner},
		yellow:  color.New(color.FgYellow),
		green:   color.New(color.FgGreen),
		red:     color.New(color.FgRed),
	}
}

func (c *ConsoleReporter) Report(event Event) {
	switch event.Kind {
	case ImagesListed:
		c.yellow.Fprintf(c.out, "Found %d images in repository\n", len(event.Images))

		if len(event.Images) > 0 {
			fmt.Fprintln(c.out, strings.Join(event.Images, "\n"))
		}
	case PlanningStarted:
		c.spinner.spinner.Suffix = fmt.Sprintf(" checking %d images for cleanup requirements", len(event.Images))
		c.spinner.startSpinner()
	case PlanningDone:
		c.spinner.stopSpinner()
	case ImagePlanned:
		c.reportPlan(event)
	case ShowDelete:
		c.red.Fprint(c.out, RenderDigests(event.Plan.Delete, event.Plan.Reasons, c.now()))
	case ShowKeep:
		fmt.Fprint(c.out, RenderDigests(event.Plan.Keep, event.Plan.Reasons, c.now()))
	case DigestDeleted:
		c.red.Fprintf(c.out, "deleted %s@%s\n", event.Image, event.Digest)
	case DeleteFailed:
		fmt.Fprintln(c.out, event.Err)
	case ImageDone:
		if event.Deleted != event.Selected {
			c.red.Fprintf(c.out, "deleted %d out of %d images\n", event.Deleted, event.Selected)
		}
	case ImageSkipped:
		c.yellow.Fprintf(c.out, "skipped deletion of %d images of %s\n", event.Selected, event.Image)
	case ImageFailed:
		c.red.Fprintf(c.out, "failed to check %s: %s\n", event.Image, event.Err)
	case RunSummary:
		c.reportSummary(event)
	}
}

func (c *ConsoleReporter) reportPlan(event Event) {
	plan := event.Plan

	c.yellow.Fprintf(c.out, "Checking %s for cleanup requirements\n", plan.Image)

	if len(plan.Delete) == 0 {
		if event.DryRun {
			c.green.Fprintln(c.out, "no images are candidates for deletion")
		} else {
			fmt.Fprintf(c.out, "no images are candidates for deletion, keeping %s images\n",
				c.green.Sprint(len(plan.Keep)))
		}

		return
	}

	fmt.Fprintf(c.out, "%s images to delete %s images to keep\n",
		c.red.Sprint(len(plan.Delete)), c.green.Sprint(len(plan.Keep)))
}

func (c *ConsoleReporter) reportSummary(event Event) {
	if !event.DryRun {
		fmt.Fprintf(c.out, "deleted %s out of %d images selected for deletion\n",
			c.red.Sprint(event.Deleted), event.Selected)
	}

	if len(event.Failed) > 0 {
		c.red.Fprintf(c.out, "failed to check %d images: %s\n", len(event.Failed), strings.Join(event.Failed, ", "))
	}
}

// RenderDigests formats records as a table, one row per digest with its age and tags.
func RenderDigests(records []types.DigestRecord, reasons map[string]string, now time.Time) string {
	builder := &strings.Builder{}

	table := tablewriter.NewWriter(builder)
	table.Header("Digest", "Pushed", "Age", "Tags", "Reason")

	for _, record := range records {
		_ = table.Append([]string{
			record.Digest,
			record.Timestamp.Format(TimestampFormat),
			humanize.RelTime(record.Timestamp, now, "ago", "from now"),
			strings.Join(SortTags(record.Tags), ","),
			reasons[record.Digest],
		})
	}

	_ = table.Render()

	return builder.String()
}

// SortTags returns a copy of tags, semantic versions first from the highest, then the others
// in reverse lexical order.
func SortTags(tags []string) []string {
	sorted := append([]string(nil), tags...)

	sort.SliceStable(sorted, func(i, j int) bool {
		vi, erri := semver.NewVersion(sorted[i])
		vj, errj := semver.NewVersion(sorted[j])

		switch {
		case erri == nil && errj == nil:
			if cmp := vi.Compare(vj); cmp != 0 {
				return cmp > 0
			}

			return sorted[i] > sorted[j]
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return sorted[i] > sorted[j]
		}
	})

	return sorted
}
