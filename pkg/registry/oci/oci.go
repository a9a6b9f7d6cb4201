// Package oci implements the registry client for any registry following the OCI distribution spec.
// Such registries only expose tags, so untagged digests are never listed.
package oci

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/regclient/regclient"
	"github.com/regclient/regclient/config"
	"github.com/regclient/regclient/scheme"
	"github.com/regclient/regclient/types/manifest"
	"github.com/regclient/regclient/types/ref"

	zerr "zotregistry.dev/zprune/errors"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/retention"
	"zotregistry.dev/zprune/pkg/retention/types"
)

var errNoCreated = errors.New("image config has no creation time")

// createdCacheSize bounds the creation times kept across images, digests are often shared between them.
const createdCacheSize = 4096

type Client struct {
	client  *regclient.RegClient
	created *lru.Cache[string, time.Time]
	log     zlog.Logger
}

// NewClient returns a client for hostname, docker credentials are used when available.
func NewClient(hostname string, insecure bool, log zlog.Logger) *Client {
	host := config.Host{
		Name:     hostname,
		Hostname: hostname,
		TLS:      config.TLSEnabled,
	}

	if insecure {
		host.TLS = config.TLSDisabled
	}

	client := regclient.New(
		regclient.WithConfigHost(host),
		regclient.WithDockerCreds(),
	)

	// only fails for a non positive size
	created, _ := lru.New[string, time.Time](createdCacheSize)

	return &Client{client: client, created: created, log: log}
}

// ListImages returns the repositories of the registry under repository, eg: registry.io/team.
func (c *Client) ListImages(ctx context.Context, repository string) ([]string, error) {
	hostname, prefix, _ := strings.Cut(repository, "/")

	repos, err := c.getRepoList(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", zerr.ErrListImages, hostname, err)
	}

	images := make([]string, 0, len(repos))

	for _, repo := range repos {
		if prefix != "" && repo != prefix && !strings.HasPrefix(repo, prefix+"/") {
			continue
		}

		images = append(images, hostname+"/"+repo)
	}

	return images, nil
}

func (c *Client) getRepoList(ctx context.Context, hostname string) ([]string, error) {
	repositories := []string{}
	seen := map[string]struct{}{}

	last := ""

	for {
		repoOpts := []scheme.RepoOpts{}

		if last != "" {
			repoOpts = append(repoOpts, scheme.WithRepoLast(last))
		}

		clientRepoList, err := c.client.RepoList(ctx, hostname, repoOpts...)
		if err != nil {
			return repositories, err
		}

		repoList, err := clientRepoList.GetRepos()
		if err != nil {
			return repositories, err
		}

		// registries that ignore ?last= keep serving the same page
		added := 0

		for _, repo := range repoList {
			if _, ok := seen[repo]; ok {
				continue
			}

			seen[repo] = struct{}{}
			repositories = append(repositories, repo)
			added++
		}

		if added == 0 {
			break
		}

		last = repoList[len(repoList)-1]
	}

	sort.Strings(repositories)

	return repositories, nil
}

// ListDigests groups the tags of image by the digest they point to.
func (c *Client) ListDigests(ctx context.Context, image string) ([]types.DigestRecord, error) {
	imageRef, err := ref.New(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", zerr.ErrListDigests, err)
	}

	tagList, err := c.client.TagList(ctx, imageRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", zerr.ErrListDigests, image, err)
	}

	tags, err := tagList.GetTags()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", zerr.ErrListDigests, image, err)
	}

	byDigest := map[string]*types.DigestRecord{}
	order := []string{}

	for _, tag := range tags {
		tagRef := imageRef.SetTag(tag)

		man, err := c.client.ManifestHead(ctx, tagRef)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%s: %w", zerr.ErrListDigests, image, tag, err)
		}

		// HEAD responses without Docker-Content-Digest carry no digest
		if man.GetDescriptor().Digest == "" {
			man, err = c.client.ManifestGet(ctx, tagRef)
			if err != nil {
				return nil, fmt.Errorf("%w: %s:%s: %w", zerr.ErrListDigests, image, tag, err)
			}
		}

		digest, err := retention.ParseDigest(man.GetDescriptor().Digest.String())
		if err != nil {
			return nil, err
		}

		if record, ok := byDigest[digest]; ok {
			record.Tags = append(record.Tags, tag)

			continue
		}

		created, err := c.getCreated(ctx, imageRef.SetDigest(digest))
		if err != nil {
			return nil, fmt.Errorf("%w: %s@%s: %w", zerr.ErrListDigests, image, digest, err)
		}

		byDigest[digest] = &types.DigestRecord{Digest: digest, Tags: []string{tag}, Timestamp: created}
		order = append(order, digest)
	}

	records := make([]types.DigestRecord, 0, len(order))
	for _, digest := range order {
		records = append(records, *byDigest[digest])
	}

	return records, nil
}

// getCreated returns the creation time found in the image config, for indexes the first image is used.
// The org.opencontainers.image.created annotation is used when the config has none.
func (c *Client) getCreated(ctx context.Context, imageRef ref.Ref) (time.Time, error) {
	if created, ok := c.created.Get(imageRef.Digest); ok {
		return created, nil
	}

	man, err := c.client.ManifestGet(ctx, imageRef)
	if err != nil {
		return time.Time{}, err
	}

	configRef := imageRef

	if man.IsList() {
		indexer, ok := man.(manifest.Indexer)
		if !ok {
			return time.Time{}, zerr.ErrBadRegistryResp
		}

		descs, err := indexer.GetManifestList()
		if err != nil {
			return time.Time{}, err
		}

		if len(descs) == 0 {
			return time.Time{}, zerr.ErrBadRegistryResp
		}

		configRef = imageRef.SetDigest(descs[0].Digest.String())
	}

	blobConfig, err := c.client.ImageConfig(ctx, configRef)
	if err != nil {
		return time.Time{}, err
	}

	created, err := createdAt(man, blobConfig.GetConfig().Created)
	if err != nil {
		return time.Time{}, err
	}

	c.created.Add(imageRef.Digest, created)

	return created, nil
}

func createdAt(man manifest.Manifest, configCreated *time.Time) (time.Time, error) {
	if configCreated != nil {
		return *configCreated, nil
	}

	annotator, ok := man.(manifest.Annotator)
	if !ok {
		return time.Time{}, errNoCreated
	}

	annotations, err := annotator.GetAnnotations()
	if err != nil {
		return time.Time{}, err
	}

	value, ok := annotations[ispec.AnnotationCreated]
	if !ok {
		return time.Time{}, errNoCreated
	}

	return time.Parse(time.RFC3339, value)
}

// DeleteDigest deletes the manifest, the registry drops the tags pointing to it.
func (c *Client) DeleteDigest(ctx context.Context, image, digest string) error {
	imageRef, err := ref.New(image)
	if err != nil {
		return fmt.Errorf("%w: %w", zerr.ErrDeleteDigest, err)
	}

	if err := c.client.ManifestDelete(ctx, imageRef.SetDigest(digest)); err != nil {
		return fmt.Errorf("%w: %s@%s: %w", zerr.ErrDeleteDigest, image, digest, err)
	}

	c.log.Info().Str("image", image).Str("digest", digest).Msg("deleted digest")

	return nil
}
