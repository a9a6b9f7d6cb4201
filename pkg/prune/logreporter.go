package prune

import (
	zlog "zotregistry.dev/zprune/pkg/log"
)

// LogReporter writes the progress of a run as structured log entries.
type LogReporter struct {
	log zlog.Logger
}

func NewLogReporter(log zlog.Logger) LogReporter {
	return LogReporter{log: log}
}

func (r LogReporter) Report(event Event) {
	switch event.Kind {
	case ImagesListed:
		r.log.Info().Str("component", "prune").Int("images", len(event.Images)).
			Bool("dry-run", event.DryRun).Msg("listed images")
	case ImagePlanned:
		r.log.Info().Str("component", "prune").Str("image", event.Image).
			Int("keep", len(event.Plan.Keep)).Int("delete", len(event.Plan.Delete)).
			Bool("dry-run", event.DryRun).Msg("planned image")
	case DigestDeleted:
		r.log.Info().Str("component", "prune").Str("image", event.Image).Str("digest", event.Digest).
			Msg("deleted digest")
	case DeleteFailed:
		r.log.Error().Err(event.Err).Str("component", "prune").Str("image", event.Image).
			Str("digest", event.Digest).Msg("failed to delete digest")
	case ImageSkipped:
		r.log.Info().Str("component", "prune").Str("image", event.Image).Int("selected", event.Selected).
			Msg("deletion declined")
	case ImageFailed:
		r.log.Error().Err(event.Err).Str("component", "prune").Str("image", event.Image).
			Msg("failed to check image")
	case ImageDone:
		r.log.Info().Str("component", "prune").Str("image", event.Image).
			Int("deleted", event.Deleted).Int("selected", event.Selected).Msg("pruned image")
	case RunSummary:
		r.log.Info().Str("component", "prune").Int("deleted", event.Deleted).Int("selected", event.Selected).
			Strs("failed", event.Failed).Bool("dry-run", event.DryRun).Msg("run finished")
	case PlanningStarted, PlanningDone, ShowDelete, ShowKeep:
	}
}
