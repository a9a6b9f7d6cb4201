package prune

import "zotregistry.dev/zprune/pkg/retention/types"

type EventKind int

const (
	// ImagesListed carries the images found in the repository.
	ImagesListed EventKind = iota
	PlanningStarted
	PlanningDone
	// ImagePlanned carries the plan of one image, before anything is deleted.
	ImagePlanned
	ShowDelete
	ShowKeep
	DigestDeleted
	DeleteFailed
	// ImageDone carries the deleted and selected counts of one image.
	ImageDone
	ImageSkipped
	ImageFailed
	RunSummary
)

// Event is what the pipeline reports, fields are set depending on Kind.
type Event struct {
	Kind     EventKind
	DryRun   bool
	Image    string
	Images   []string
	Plan     types.Plan
	Digest   string
	Err      error
	Deleted  int
	Selected int
	Failed   []string
}

// Reporter presents the progress of a run, implementations must not block.
type Reporter interface {
	Report(event Event)
}

type Reporters []Reporter

func (r Reporters) Report(event Event) {
	for _, reporter := range r {
		reporter.Report(event)
	}
}

// Prompter asks the user for a yes/no answer.
type Prompter interface {
	Confirm(message string) (bool, error)
}
