package prune_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/config"
	"zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/metrics"
	"zotregistry.dev/zprune/pkg/prune"
	"zotregistry.dev/zprune/pkg/retention"
	"zotregistry.dev/zprune/pkg/retention/types"
	mocks "zotregistry.dev/zprune/pkg/test/mocks"
)

type recorder struct {
	lock   sync.Mutex
	events []prune.Event
}

func (r *recorder) Report(event prune.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) kinds(kind prune.EventKind) []prune.Event {
	found := []prune.Event{}

	for _, event := range r.events {
		if event.Kind == kind {
			found = append(found, event)
		}
	}

	return found
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func digest(idx int) string {
	return fmt.Sprintf("sha256:%064x", idx)
}

// two images, "gcr.io/p/app" with one untagged and one expired digest, "gcr.io/p/db" with nothing to delete.
func fixture() map[string][]types.DigestRecord {
	return map[string][]types.DigestRecord{
		"gcr.io/p/app": {
			{Digest: digest(1), Tags: []string{}, Timestamp: now.Add(-2 * time.Hour)},
			{Digest: digest(2), Tags: []string{"main"}, Timestamp: now.Add(-30 * 24 * time.Hour)},
			{Digest: digest(3), Tags: []string{"v1.0.0"}, Timestamp: now.Add(-60 * 24 * time.Hour)},
			{Digest: digest(4), Tags: []string{"dev"}, Timestamp: now.Add(-time.Hour)},
		},
		"gcr.io/p/db": {
			{Digest: digest(5), Tags: []string{"latest"}, Timestamp: now.Add(-90 * 24 * time.Hour)},
		},
	}
}

func newClient(deleted *[]string, lock *sync.Mutex) mocks.RegistryClientMock {
	images := fixture()

	return mocks.RegistryClientMock{
		ListImagesFn: func(ctx context.Context, repository string) ([]string, error) {
			return []string{"gcr.io/p/app", "gcr.io/p/db"}, nil
		},
		ListDigestsFn: func(ctx context.Context, image string) ([]types.DigestRecord, error) {
			return images[image], nil
		},
		DeleteDigestFn: func(ctx context.Context, image, digest string) error {
			lock.Lock()
			defer lock.Unlock()

			*deleted = append(*deleted, image+"@"+digest)

			return nil
		},
	}
}

func newPolicyManager() types.PolicyManager {
	return retention.NewPolicyManager(config.RetentionConfig{Keep: 0, Grace: 168 * time.Hour}, false,
		log.NewTestLogger(), nil)
}

func TestRunner(t *testing.T) {
	Convey("Given a repository with two images", t, func() {
		var (
			deleted []string
			lock    sync.Mutex
		)

		client := newClient(&deleted, &lock)
		reporter := &recorder{}
		collector := metrics.NewCollector()
		prompts := []string{}
		prompter := mocks.PrompterMock{ConfirmFn: func(message string) (bool, error) {
			prompts = append(prompts, message)

			return true, nil
		}}

		Convey("A real run deletes the selected digests oldest first", func() {
			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{Concurrency: 2}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			summary, err := runner.Run(context.Background())
			So(err, ShouldBeNil)
			So(summary.Images, ShouldEqual, 2)
			So(summary.Selected, ShouldEqual, 2)
			So(summary.Deleted, ShouldEqual, 2)
			So(summary.FailedImages, ShouldBeEmpty)
			So(deleted, ShouldResemble, []string{"gcr.io/p/app@" + digest(2), "gcr.io/p/app@" + digest(1)})
			So(prompts, ShouldResemble, []string{"delete 2 images?"})

			planned := reporter.kinds(prune.ImagePlanned)
			So(len(planned), ShouldEqual, 2)
			So(planned[0].Image, ShouldEqual, "gcr.io/p/app")
			So(planned[1].Image, ShouldEqual, "gcr.io/p/db")
			So(len(reporter.kinds(prune.DigestDeleted)), ShouldEqual, 2)

			summaries := reporter.kinds(prune.RunSummary)
			So(len(summaries), ShouldEqual, 1)
			So(summaries[0].Deleted, ShouldEqual, 2)
		})

		Convey("A dry run deletes nothing and asks to display the plan", func() {
			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{DryRun: true}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			summary, err := runner.Run(context.Background())
			So(err, ShouldBeNil)
			So(summary.Deleted, ShouldEqual, 0)
			So(summary.Selected, ShouldEqual, 0)
			So(deleted, ShouldBeEmpty)
			So(prompts, ShouldResemble, []string{
				"display 2 images being deleted?",
				"display 2 images being kept?",
				"display 1 images being kept?",
			})
			So(len(reporter.kinds(prune.ShowDelete)), ShouldEqual, 1)
			So(len(reporter.kinds(prune.ShowKeep)), ShouldEqual, 2)
		})

		Convey("Yes skips every prompt", func() {
			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{DryRun: true, Yes: true}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			_, err := runner.Run(context.Background())
			So(err, ShouldBeNil)
			So(prompts, ShouldBeEmpty)
			So(len(reporter.kinds(prune.ShowKeep)), ShouldEqual, 2)
		})

		Convey("Declining the deletion skips the image", func() {
			prompter.ConfirmFn = func(message string) (bool, error) { return false, nil }

			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			summary, err := runner.Run(context.Background())
			So(err, ShouldBeNil)
			So(summary.Deleted, ShouldEqual, 0)
			So(deleted, ShouldBeEmpty)

			skipped := reporter.kinds(prune.ImageSkipped)
			So(len(skipped), ShouldEqual, 1)
			So(skipped[0].Selected, ShouldEqual, 2)
		})

		Convey("Interrupting a prompt aborts the run", func() {
			prompter.ConfirmFn = func(message string) (bool, error) { return false, zerr.ErrCanceledByUser }

			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			_, err := runner.Run(context.Background())
			So(err, ShouldEqual, zerr.ErrCanceledByUser)
			So(reporter.kinds(prune.RunSummary), ShouldBeEmpty)
		})

		Convey("A failed deletion does not stop the others", func() {
			client.DeleteDigestFn = func(ctx context.Context, image, dgst string) error {
				if dgst == digest(2) {
					return zerr.ErrDeleteDigest
				}

				deleted = append(deleted, image+"@"+dgst)

				return nil
			}

			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{Yes: true}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			summary, err := runner.Run(context.Background())
			So(err, ShouldBeNil)
			So(summary.Deleted, ShouldEqual, 1)
			So(summary.Selected, ShouldEqual, 2)
			So(deleted, ShouldResemble, []string{"gcr.io/p/app@" + digest(1)})

			failures := reporter.kinds(prune.DeleteFailed)
			So(len(failures), ShouldEqual, 1)
			So(errors.Is(failures[0].Err, zerr.ErrTransport), ShouldBeTrue)

			done := reporter.kinds(prune.ImageDone)
			So(len(done), ShouldEqual, 1)
			So(done[0].Deleted, ShouldEqual, 1)
			So(done[0].Selected, ShouldEqual, 2)
		})

		Convey("A failing image is reported and the others are still processed", func() {
			client.ListDigestsFn = func(ctx context.Context, image string) ([]types.DigestRecord, error) {
				if image == "gcr.io/p/app" {
					return nil, zerr.ErrListDigests
				}

				return fixture()[image], nil
			}

			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{Yes: true}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			summary, err := runner.Run(context.Background())
			So(errors.Is(err, zerr.ErrPartialRun), ShouldBeTrue)
			So(summary.FailedImages, ShouldResemble, []string{"gcr.io/p/app"})
			So(len(reporter.kinds(prune.ImageFailed)), ShouldEqual, 1)
			So(len(reporter.kinds(prune.ImagePlanned)), ShouldEqual, 1)
			So(reporter.kinds(prune.RunSummary)[0].Failed, ShouldResemble, []string{"gcr.io/p/app"})
		})

		Convey("Invalid records fail the image", func() {
			client.ListDigestsFn = func(ctx context.Context, image string) ([]types.DigestRecord, error) {
				return []types.DigestRecord{{Digest: "", Tags: []string{"x"}, Timestamp: now}}, nil
			}

			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{Yes: true}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			summary, err := runner.Run(context.Background())
			So(errors.Is(err, zerr.ErrPartialRun), ShouldBeTrue)
			So(len(summary.FailedImages), ShouldEqual, 2)
		})

		Convey("Failing to list images aborts the run", func() {
			client.ListImagesFn = func(ctx context.Context, repository string) ([]string, error) {
				return nil, zerr.ErrListImages
			}

			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{}, log.NewTestLogger())

			_, err := runner.Run(context.Background())
			So(err, ShouldEqual, zerr.ErrListImages)
			So(reporter.events, ShouldBeEmpty)
		})

		Convey("A canceled context stops the run", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{Yes: true}, log.NewTestLogger())

			_, err := runner.Run(ctx)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(deleted, ShouldBeEmpty)
		})

		Convey("Every image is classified against the same instant", func() {
			instants := map[time.Time]struct{}{}
			policies := mocks.PolicyManagerMock{
				PlanFn: func(image string, records []types.DigestRecord, at time.Time) (types.Plan, error) {
					lock.Lock()
					defer lock.Unlock()

					instants[at] = struct{}{}

					return types.Plan{Image: image}, nil
				},
			}

			calls := 0
			runner := prune.NewRunner(client, policies, reporter, prompter, collector,
				prune.Options{Concurrency: 4}, log.NewTestLogger()).WithClock(func() time.Time {
				calls++

				return now.Add(time.Duration(calls) * time.Second)
			})

			_, err := runner.Run(context.Background())
			So(err, ShouldBeNil)
			So(len(instants), ShouldEqual, 1)
		})

		Convey("A delete rate limits deletions", func() {
			runner := prune.NewRunner(client, newPolicyManager(), reporter, prompter, collector,
				prune.Options{Yes: true, DeleteRate: 1000}, log.NewTestLogger()).WithClock(func() time.Time { return now })

			summary, err := runner.Run(context.Background())
			So(err, ShouldBeNil)
			So(summary.Deleted, ShouldEqual, 2)
		})
	})
}

func TestConsoleReporter(t *testing.T) {
	Convey("Console reporter prints the run", t, func() {
		out := &bytes.Buffer{}
		reporter := prune.NewConsoleReporter(out, &bytes.Buffer{}, false)

		plan := types.Plan{
			Image: "gcr.io/p/app",
			Keep: []types.DigestRecord{
				{Digest: digest(3), Tags: []string{"main", "v1.0.0", "v1.2.0"}, Timestamp: now.Add(-time.Hour)},
			},
			Delete:  []types.DigestRecord{{Digest: digest(1), Tags: []string{}, Timestamp: now.Add(-time.Hour)}},
			Reasons: map[string]string{digest(1): "untagged", digest(3): "retained by semver:v1.0.0 policy"},
		}

		reporter.Report(prune.Event{Kind: prune.ImagesListed, Images: []string{"gcr.io/p/app", "gcr.io/p/db"}})
		reporter.Report(prune.Event{Kind: prune.PlanningStarted, Images: []string{"gcr.io/p/app"}})
		reporter.Report(prune.Event{Kind: prune.PlanningDone})
		reporter.Report(prune.Event{Kind: prune.ImagePlanned, Plan: plan, Image: plan.Image})
		reporter.Report(prune.Event{Kind: prune.ShowKeep, Plan: plan})
		reporter.Report(prune.Event{Kind: prune.DigestDeleted, Image: plan.Image, Digest: digest(1)})
		reporter.Report(prune.Event{Kind: prune.ImageDone, Deleted: 0, Selected: 1})
		reporter.Report(prune.Event{Kind: prune.ImagePlanned, Plan: types.Plan{Image: "gcr.io/p/db"}, DryRun: true})
		reporter.Report(prune.Event{Kind: prune.RunSummary, Deleted: 1, Selected: 2, Failed: []string{"gcr.io/p/x"}})

		output := out.String()
		So(output, ShouldContainSubstring, "Found 2 images in repository")
		So(output, ShouldContainSubstring, "gcr.io/p/db")
		So(output, ShouldContainSubstring, "Checking gcr.io/p/app for cleanup requirements")
		So(output, ShouldContainSubstring, "images to delete")
		So(output, ShouldContainSubstring, "retained by semver:v1.0.0 policy")
		So(output, ShouldContainSubstring, "v1.2.0,v1.0.0,main")
		So(output, ShouldContainSubstring, "deleted gcr.io/p/app@"+digest(1))
		So(output, ShouldContainSubstring, "deleted 0 out of 1 images")
		So(output, ShouldContainSubstring, "no images are candidates for deletion")
		So(output, ShouldContainSubstring, "images selected for deletion")
		So(output, ShouldContainSubstring, "failed to check 1 images: gcr.io/p/x")
	})
}

func TestSortTags(t *testing.T) {
	Convey("Semantic versions sort first, highest first", t, func() {
		tags := []string{"main", "v1.0.0", "latest", "2.0.0", "v1.10.0", "dev"}

		So(prune.SortTags(tags), ShouldResemble, []string{"2.0.0", "v1.10.0", "v1.0.0", "main", "latest", "dev"})
		So(tags[0], ShouldEqual, "main")
		So(prune.SortTags(nil), ShouldBeEmpty)
	})
}

func TestLogReporter(t *testing.T) {
	Convey("Log reporter writes structured entries", t, func() {
		out := &bytes.Buffer{}
		reporter := prune.NewLogReporter(log.NewConsoleLogger("debug", out))

		reporter.Report(prune.Event{Kind: prune.DeleteFailed, Image: "gcr.io/p/app", Digest: digest(1),
			Err: zerr.ErrDeleteDigest})
		reporter.Report(prune.Event{Kind: prune.RunSummary, Deleted: 3, Selected: 3})

		So(out.String(), ShouldContainSubstring, "failed to delete digest")
		So(out.String(), ShouldContainSubstring, "run finished")
	})
}
