package registry

import (
	"context"
	"fmt"
	"strings"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/config"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/registry/ecr"
	"zotregistry.dev/zprune/pkg/registry/gcloud"
	"zotregistry.dev/zprune/pkg/registry/gcr"
	"zotregistry.dev/zprune/pkg/registry/oci"
	"zotregistry.dev/zprune/pkg/retention/types"
)

const (
	GcloudBackend = "gcloud"
	GCRBackend    = "gcr"
	OCIBackend    = "oci"
	ECRBackend    = "ecr"
)

// Backends lists the supported registry backends.
func Backends() []string {
	return []string{GcloudBackend, GCRBackend, OCIBackend, ECRBackend}
}

// New returns the registry client selected by conf.Backend.
func New(ctx context.Context, conf config.RegistryConfig, log zlog.Logger) (types.RegistryClient, error) {
	switch strings.ToLower(conf.Backend) {
	case GcloudBackend, "":
		return gcloud.NewClient(log), nil
	case GCRBackend:
		return gcr.NewClient(log), nil
	case OCIBackend:
		hostname, _, _ := strings.Cut(conf.Repository, "/")
		if hostname == "" {
			return nil, fmt.Errorf("%w: the oci backend needs a repository such as registry.io/namespace",
				zerr.ErrBadConfig)
		}

		return oci.NewClient(hostname, conf.Insecure, log), nil
	case ECRBackend:
		return ecr.NewClient(ctx, conf.Region, log)
	default:
		return nil, fmt.Errorf("%w: %q, expected one of %s", zerr.ErrUnknownBackend, conf.Backend,
			strings.Join(Backends(), ", "))
	}
}
