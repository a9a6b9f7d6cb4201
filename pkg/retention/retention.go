package retention

import (
	"fmt"
	"time"

	glob "github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/config"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/retention/types"
)

const (
	// reasons for deletion.
	deletedUntagged = "untagged"
	deletedExpired  = "expired"
	// reasons for retention.
	retainedStrFormat = "retained by %s policy"
	retainedByTagFmt  = "%s:%s"
)

// Classify partitions the digests of one image in the ones to keep and the ones to delete.
//
// Untagged digests are always deleted and tag protected ones are always kept. The remaining digests
// are kept while within the grace period, if fewer than policy.MinKeep were kept that way the most
// recently pushed of the others are kept as well.
func Classify(records []types.DigestRecord, policy types.Policy, now time.Time) (types.Plan, error) {
	if policy.MinKeep < 0 || policy.GracePeriod < 0 {
		return types.Plan{}, fmt.Errorf("%w: keep=%d grace=%s", zerr.ErrInvalidPolicy, policy.MinKeep, policy.GracePeriod)
	}

	if err := ValidateRecords(records); err != nil {
		return types.Plan{}, err
	}

	plan := types.Plan{
		Keep:    make([]types.DigestRecord, 0),
		Delete:  make([]types.DigestRecord, 0),
		Reasons: make(map[string]string, len(records)),
	}

	tagged := make([]types.DigestRecord, 0, len(records))

	for _, record := range records {
		if !record.IsTagged() {
			plan.Delete = append(plan.Delete, record)
			plan.Reasons[record.Digest] = deletedUntagged

			continue
		}

		tagged = append(tagged, record)
	}

	protected, unprotected := NewProtectedTag().Perform(tagged)
	for _, record := range protected {
		tag, shape, _ := ProtectingTag(record.Tags)
		plan.Reasons[record.Digest] = fmt.Sprintf(retainedStrFormat, fmt.Sprintf(retainedByTagFmt, shape, tag))
	}

	plan.Keep = append(plan.Keep, protected...)

	graceRule := NewPushedWithin(policy.GracePeriod, now)

	inGrace, provisional := graceRule.Perform(unprotected)
	for _, record := range inGrace {
		plan.Reasons[record.Digest] = fmt.Sprintf(retainedStrFormat, graceRule.Name())
	}

	plan.Keep = append(plan.Keep, inGrace...)

	// backfill favors the newest digests
	SortNewestFirst(provisional)

	// only digests kept by the grace period count towards the minimum
	if graceCount := len(inGrace); graceCount < policy.MinKeep {
		backfill := NewMostRecentlyPushed(policy.MinKeep - graceCount)

		var promoted []types.DigestRecord

		promoted, provisional = backfill.Perform(provisional)
		for _, record := range promoted {
			plan.Reasons[record.Digest] = fmt.Sprintf(retainedStrFormat, backfill.Name())
		}

		plan.Keep = append(plan.Keep, promoted...)
	}

	for _, record := range provisional {
		plan.Reasons[record.Digest] = deletedExpired
	}

	plan.Delete = append(plan.Delete, provisional...)

	SortNewestFirst(plan.Keep)
	// oldest first, so that digests newer ones may depend on go last
	SortOldestFirst(plan.Delete)

	return plan, nil
}

type policyManager struct {
	config   config.RetentionConfig
	dryRun   bool
	log      zlog.Logger
	auditLog *zlog.Logger
}

func NewPolicyManager(config config.RetentionConfig, dryRun bool, log zlog.Logger, auditLog *zlog.Logger,
) policyManager {
	return policyManager{
		config:   config,
		dryRun:   dryRun,
		log:      log,
		auditLog: auditLog,
	}
}

// GetPolicy returns the policy of the first override matching image, or the default one.
func (p policyManager) GetPolicy(image string) types.Policy {
	policy := types.Policy{MinKeep: p.config.Keep, GracePeriod: p.config.Grace}

	override, err := p.getImagePolicy(image)
	if err != nil {
		return policy
	}

	if override.Keep != nil {
		policy.MinKeep = *override.Keep
	}

	if override.Grace != nil {
		policy.GracePeriod = *override.Grace
	}

	return policy
}

func (p policyManager) Plan(image string, records []types.DigestRecord, now time.Time) (types.Plan, error) {
	policy := p.GetPolicy(image)

	plan, err := Classify(records, policy, now)
	if err != nil {
		p.log.Error().Err(err).Str("module", "retention").Str("image", image).Msg("failed to classify digests")

		return types.Plan{}, err
	}

	plan.Image = image

	for _, record := range plan.Keep {
		logAction(image, "keep", plan.Reasons[record.Digest], record, p.dryRun, zerolog.DebugLevel, &p.log)
	}

	for _, record := range plan.Delete {
		logAction(image, "delete", plan.Reasons[record.Digest], record, p.dryRun, zerolog.DebugLevel, &p.log)

		if p.auditLog != nil {
			logAction(image, "delete", plan.Reasons[record.Digest], record, p.dryRun, zerolog.InfoLevel, p.auditLog)
		}
	}

	p.log.Info().Str("module", "retention").Str("image", image).
		Int("keep", len(plan.Keep)).Int("delete", len(plan.Delete)).
		Int("minKeep", policy.MinKeep).Str("gracePeriod", policy.GracePeriod.String()).
		Msg("applied policy")

	return plan, nil
}

func (p policyManager) getImagePolicy(image string) (config.ImagePolicy, error) {
	for _, policy := range p.config.Policies {
		for _, pattern := range policy.Images {
			matched, err := glob.Match(pattern, image)
			if err == nil && matched {
				return policy, nil
			}
		}
	}

	return config.ImagePolicy{}, zerr.ErrRetentionPolicyNotFound
}

func logAction(image, decision, reason string, record types.DigestRecord, dryRun bool,
	level zerolog.Level, log *zlog.Logger,
) {
	log.WithLevel(level).Str("module", "retention").
		Bool("dry-run", dryRun).
		Str("image", image).
		Str("digest", record.Digest).
		Strs("tags", record.Tags).
		Str("pushTimestamp", record.Timestamp.String()).
		Str("decision", decision).
		Str("reason", reason).Msg("applied policy")
}
