package retention

import (
	"fmt"
	"time"

	"zotregistry.dev/zprune/pkg/retention/types"
)

const (
	// rules name.
	protectedTagName       = "protectedTag"
	pushedWithinName       = "pushedWithin"
	mostRecentlyPushedName = "mostRecentlyPushedCount"
)

// rules implementation

// ProtectedTag retains digests carrying at least one semver, partial version or latest tag.
type ProtectedTag struct{}

func NewProtectedTag() ProtectedTag {
	return ProtectedTag{}
}

func (pt ProtectedTag) Name() string {
	return protectedTagName
}

func (pt ProtectedTag) Perform(candidates []types.DigestRecord) ([]types.DigestRecord, []types.DigestRecord) {
	retained := make([]types.DigestRecord, 0)
	rest := make([]types.DigestRecord, 0)

	for _, candidate := range candidates {
		if IsTagProtected(candidate.Tags) {
			retained = append(retained, candidate)
		} else {
			rest = append(rest, candidate)
		}
	}

	return retained, rest
}

// PushedWithin retains digests pushed less than duration before now.
type PushedWithin struct {
	duration time.Duration
	now      time.Time
}

func NewPushedWithin(duration time.Duration, now time.Time) PushedWithin {
	return PushedWithin{duration: duration, now: now}
}

func (pw PushedWithin) Name() string {
	return fmt.Sprintf("%s:%s", pushedWithinName, pw.duration)
}

func (pw PushedWithin) Perform(candidates []types.DigestRecord) ([]types.DigestRecord, []types.DigestRecord) {
	retained := make([]types.DigestRecord, 0)
	rest := make([]types.DigestRecord, 0)

	// a zero grace period protects nothing, not even digests with a timestamp in the future
	if pw.duration <= 0 {
		return retained, append(rest, candidates...)
	}

	for _, candidate := range candidates {
		if pw.now.Sub(candidate.Timestamp) < pw.duration {
			retained = append(retained, candidate)
		} else {
			rest = append(rest, candidate)
		}
	}

	return retained, rest
}

// MostRecentlyPushed retains up to count tagged digests, taken in candidates order.
// Candidates are expected to be sorted newest first.
type MostRecentlyPushed struct {
	count int
}

func NewMostRecentlyPushed(count int) MostRecentlyPushed {
	return MostRecentlyPushed{count: count}
}

func (mp MostRecentlyPushed) Name() string {
	return fmt.Sprintf("%s:%d", mostRecentlyPushedName, mp.count)
}

func (mp MostRecentlyPushed) Perform(candidates []types.DigestRecord) ([]types.DigestRecord, []types.DigestRecord) {
	retained := make([]types.DigestRecord, 0)
	rest := make([]types.DigestRecord, 0)

	for _, candidate := range candidates {
		if len(retained) < mp.count && candidate.IsTagged() {
			retained = append(retained, candidate)

			continue
		}

		rest = append(rest, candidate)
	}

	return retained, rest
}
