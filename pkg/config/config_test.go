package config_test

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"zotregistry.dev/zprune/pkg/config"
)

func TestConfig(t *testing.T) {
	Convey("Defaults", t, func() {
		conf := config.New()

		So(conf.Registry.Backend, ShouldEqual, "gcloud")
		So(conf.Registry.Concurrency, ShouldEqual, 1)
		So(conf.Retention.Keep, ShouldEqual, 3)
		So(conf.Retention.Grace, ShouldEqual, 168*time.Hour)
		So(conf.Log.Level, ShouldEqual, "info")
		So(conf.IsMetricsEnabled(), ShouldBeFalse)
		So(conf.IsAuditEnabled(), ShouldBeFalse)

		conf.Metrics.PushGateway = "http://127.0.0.1:9091"
		conf.Log.Audit = "/tmp/audit.log"

		So(conf.IsMetricsEnabled(), ShouldBeTrue)
		So(conf.IsAuditEnabled(), ShouldBeTrue)

		conf.Metrics = nil
		conf.Log = nil

		So(conf.IsMetricsEnabled(), ShouldBeFalse)
		So(conf.IsAuditEnabled(), ShouldBeFalse)
	})
}
