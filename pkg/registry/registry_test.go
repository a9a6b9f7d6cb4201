package registry_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/config"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/registry"
	"zotregistry.dev/zprune/pkg/registry/gcloud"
	"zotregistry.dev/zprune/pkg/registry/gcr"
	"zotregistry.dev/zprune/pkg/registry/oci"
)

func TestNew(t *testing.T) {
	Convey("Select backend", t, func() {
		ctx := context.Background()
		logger := zlog.NewTestLogger()

		client, err := registry.New(ctx, config.RegistryConfig{}, logger)
		So(err, ShouldBeNil)
		So(client, ShouldHaveSameTypeAs, &gcloud.Client{})

		client, err = registry.New(ctx, config.RegistryConfig{Backend: "GCR"}, logger)
		So(err, ShouldBeNil)
		So(client, ShouldHaveSameTypeAs, &gcr.Client{})

		client, err = registry.New(ctx, config.RegistryConfig{Backend: "oci", Repository: "localhost:5000/team"}, logger)
		So(err, ShouldBeNil)
		So(client, ShouldHaveSameTypeAs, &oci.Client{})

		_, err = registry.New(ctx, config.RegistryConfig{Backend: "oci"}, logger)
		So(errors.Is(err, zerr.ErrBadConfig), ShouldBeTrue)

		_, err = registry.New(ctx, config.RegistryConfig{Backend: "quay"}, logger)
		So(errors.Is(err, zerr.ErrUnknownBackend), ShouldBeTrue)

		So(registry.Backends(), ShouldContain, "ecr")
	})
}
