package retention_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"zotregistry.dev/zprune/pkg/retention"
	"zotregistry.dev/zprune/pkg/retention/types"
)

func TestRules(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	candidates := []types.DigestRecord{
		{Digest: "d1", Tags: []string{"v1.0.0"}, Timestamp: now.Add(-time.Hour)},
		{Digest: "d2", Tags: []string{"nightly"}, Timestamp: now.Add(-30 * time.Hour)},
		{Digest: "d3", Timestamp: now.Add(-2 * time.Hour)},
		{Digest: "d4", Tags: []string{"latest"}, Timestamp: now.Add(-50 * time.Hour)},
	}

	Convey("Rule names", t, func() {
		So(retention.NewProtectedTag().Name(), ShouldEqual, "protectedTag")
		So(retention.NewPushedWithin(48*time.Hour, now).Name(), ShouldEqual, "pushedWithin:48h0m0s")
		So(retention.NewMostRecentlyPushed(3).Name(), ShouldEqual, "mostRecentlyPushedCount:3")
	})

	Convey("ProtectedTag", t, func() {
		retained, rest := retention.NewProtectedTag().Perform(candidates)
		So(digests(retained), ShouldResemble, []string{"d1", "d4"})
		So(digests(rest), ShouldResemble, []string{"d2", "d3"})
	})

	Convey("PushedWithin", t, func() {
		retained, rest := retention.NewPushedWithin(24*time.Hour, now).Perform(candidates)
		So(digests(retained), ShouldResemble, []string{"d1", "d3"})
		So(digests(rest), ShouldResemble, []string{"d2", "d4"})

		retained, rest = retention.NewPushedWithin(0, now).Perform(candidates)
		So(retained, ShouldBeEmpty)
		So(rest, ShouldHaveLength, len(candidates))
	})

	Convey("MostRecentlyPushed skips untagged candidates", t, func() {
		retained, rest := retention.NewMostRecentlyPushed(2).Perform(
			[]types.DigestRecord{candidates[2], candidates[1], candidates[3], candidates[0]})
		So(digests(retained), ShouldResemble, []string{"d2", "d4"})
		So(digests(rest), ShouldResemble, []string{"d3", "d1"})

		retained, rest = retention.NewMostRecentlyPushed(0).Perform(candidates)
		So(retained, ShouldBeEmpty)
		So(rest, ShouldHaveLength, len(candidates))
	})
}
