package prune

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	zerr "zotregistry.dev/zprune/errors"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/metrics"
	"zotregistry.dev/zprune/pkg/retention/types"
)

type Options struct {
	Repository string
	DryRun     bool
	// Yes answers yes to every prompt.
	Yes bool
	// Concurrency bounds the number of images listed and classified at once.
	Concurrency int
	// DeleteRate limits deletions per second, 0 means unlimited.
	DeleteRate float64
}

type Summary struct {
	Images       int
	FailedImages []string
	Selected     int
	Deleted      int
}

// Runner drives the list -> classify -> act pipeline over all images of a repository.
type Runner struct {
	lister   types.Lister
	deleter  types.Deleter
	policies types.PolicyManager
	reporter Reporter
	prompter Prompter
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	opts     Options
	now      func() time.Time
	log      zlog.Logger
}

type imagePlan struct {
	plan types.Plan
	err  error
}

func NewRunner(client types.RegistryClient, policies types.PolicyManager, reporter Reporter, prompter Prompter,
	collector *metrics.Collector, opts Options, log zlog.Logger,
) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	if collector == nil {
		collector = metrics.NewCollector()
	}

	var limiter *rate.Limiter
	if opts.DeleteRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.DeleteRate), 1)
	}

	return &Runner{
		lister:   client,
		deleter:  client,
		policies: policies,
		reporter: reporter,
		prompter: prompter,
		metrics:  collector,
		limiter:  limiter,
		opts:     opts,
		now:      time.Now,
		log:      log,
	}
}

// WithClock replaces the time source, used to make runs reproducible.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now

	return r
}

func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{}

	images, err := r.lister.ListImages(ctx, r.opts.Repository)
	if err != nil {
		r.log.Error().Err(err).Str("repository", r.opts.Repository).Msg("failed to list images")

		return summary, err
	}

	summary.Images = len(images)
	r.reporter.Report(Event{Kind: ImagesListed, Images: images, DryRun: r.opts.DryRun})

	plans := r.planImages(ctx, images)

	for idx, image := range images {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result := plans[idx]
		if result.err != nil {
			if errors.Is(result.err, context.Canceled) {
				return summary, result.err
			}

			summary.FailedImages = append(summary.FailedImages, image)
			r.metrics.ObserveImageError()
			r.reporter.Report(Event{Kind: ImageFailed, Image: image, Err: result.err})

			continue
		}

		r.metrics.ObservePlan(result.plan)

		deleted, err := r.act(ctx, result.plan)
		summary.Deleted += deleted

		if !r.opts.DryRun {
			summary.Selected += len(result.plan.Delete)
		}

		if err != nil {
			return summary, err
		}
	}

	r.metrics.SetLastRun(r.now())
	r.reporter.Report(Event{
		Kind: RunSummary, DryRun: r.opts.DryRun,
		Deleted: summary.Deleted, Selected: summary.Selected, Failed: summary.FailedImages,
	})

	if len(summary.FailedImages) > 0 {
		return summary, fmt.Errorf("%w: %d out of %d", zerr.ErrPartialRun, len(summary.FailedImages), len(images))
	}

	return summary, nil
}

// planImages lists and classifies images concurrently, results keep the images order.
func (r *Runner) planImages(ctx context.Context, images []string) []imagePlan {
	plans := make([]imagePlan, len(images))
	now := r.now()

	r.reporter.Report(Event{Kind: PlanningStarted, Images: images})
	defer r.reporter.Report(Event{Kind: PlanningDone, Images: images})

	var group errgroup.Group

	group.SetLimit(r.opts.Concurrency)

	for idx, image := range images {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				plans[idx] = imagePlan{err: err}

				return nil
			}

			records, err := r.lister.ListDigests(ctx, image)
			if err != nil {
				r.log.Error().Err(err).Str("image", image).Msg("failed to list digests")
				plans[idx] = imagePlan{err: err}

				return nil
			}

			plan, err := r.policies.Plan(image, records, now)
			plans[idx] = imagePlan{plan: plan, err: err}

			return nil
		})
	}

	_ = group.Wait()

	return plans
}

// act reports the plan and, unless in dry run mode, deletes the selected digests oldest first.
func (r *Runner) act(ctx context.Context, plan types.Plan) (int, error) {
	r.reporter.Report(Event{Kind: ImagePlanned, Image: plan.Image, Plan: plan, DryRun: r.opts.DryRun})

	if r.opts.DryRun {
		if len(plan.Delete) > 0 {
			ok, err := r.confirm(fmt.Sprintf("display %d images being deleted?", len(plan.Delete)))
			if err != nil {
				return 0, err
			}

			if ok {
				r.reporter.Report(Event{Kind: ShowDelete, Image: plan.Image, Plan: plan, DryRun: true})
			}
		}

		ok, err := r.confirm(fmt.Sprintf("display %d images being kept?", len(plan.Keep)))
		if err != nil {
			return 0, err
		}

		if ok {
			r.reporter.Report(Event{Kind: ShowKeep, Image: plan.Image, Plan: plan, DryRun: true})
		}

		return 0, nil
	}

	if len(plan.Delete) == 0 {
		return 0, nil
	}

	ok, err := r.confirm(fmt.Sprintf("delete %d images?", len(plan.Delete)))
	if err != nil {
		return 0, err
	}

	if !ok {
		r.reporter.Report(Event{Kind: ImageSkipped, Image: plan.Image, Selected: len(plan.Delete)})

		return 0, nil
	}

	deleted := 0

	for _, record := range plan.Delete {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return deleted, err
			}
		}

		if err := r.deleter.DeleteDigest(ctx, plan.Image, record.Digest); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return deleted, ctxErr
			}

			r.log.Warn().Err(err).Str("image", plan.Image).Str("digest", record.Digest).Msg("failed to delete digest")
			r.metrics.ObserveDeleteError(plan.Image)
			r.reporter.Report(Event{Kind: DeleteFailed, Image: plan.Image, Digest: record.Digest, Err: err})

			continue
		}

		deleted++

		r.metrics.ObserveDeleted(plan.Image)
		r.reporter.Report(Event{Kind: DigestDeleted, Image: plan.Image, Digest: record.Digest})
	}

	r.reporter.Report(Event{Kind: ImageDone, Image: plan.Image, Deleted: deleted, Selected: len(plan.Delete)})

	return deleted, nil
}

func (r *Runner) confirm(message string) (bool, error) {
	if r.opts.Yes {
		return true, nil
	}

	return r.prompter.Confirm(message)
}
