// Package gcr talks to Google Container Registry and Artifact Registry through their registry api.
package gcr

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/google"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	zerr "zotregistry.dev/zprune/errors"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/retention"
	"zotregistry.dev/zprune/pkg/retention/types"
)

type (
	ListFn   func(ctx context.Context, repo name.Repository) (*google.Tags, error)
	DeleteFn func(ctx context.Context, ref name.Reference) error
)

type Client struct {
	list   ListFn
	delete DeleteFn
	log    zlog.Logger
}

func NewClient(log zlog.Logger) *Client {
	return NewClientWithFuncs(listWithKeychain(google.Keychain), deleteWithKeychain(google.Keychain), log)
}

func NewClientWithFuncs(list ListFn, del DeleteFn, log zlog.Logger) *Client {
	return &Client{list: list, delete: del, log: log}
}

// ListImages returns the images nested right under repository, eg: gcr.io/project -> gcr.io/project/app.
func (c *Client) ListImages(ctx context.Context, repository string) ([]string, error) {
	repo, err := name.NewRepository(repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", zerr.ErrListImages, err)
	}

	tags, err := c.list(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", zerr.ErrListImages, repository, err)
	}

	images := make([]string, 0, len(tags.Children))
	for _, child := range tags.Children {
		images = append(images, fmt.Sprintf("%s/%s", repo.Name(), child))
	}

	return images, nil
}

func (c *Client) ListDigests(ctx context.Context, image string) ([]types.DigestRecord, error) {
	repo, err := name.NewRepository(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", zerr.ErrListDigests, err)
	}

	tags, err := c.list(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", zerr.ErrListDigests, image, err)
	}

	records := make([]types.DigestRecord, 0, len(tags.Manifests))

	for digestStr, info := range tags.Manifests {
		digest, err := retention.ParseDigest(digestStr)
		if err != nil {
			return nil, err
		}

		timestamp := info.Created
		if timestamp.IsZero() {
			// images built reproducibly may carry no creation time
			timestamp = info.Uploaded
		}

		imageTags := info.Tags
		if imageTags == nil {
			imageTags = []string{}
		}

		records = append(records, types.DigestRecord{Digest: digest, Tags: imageTags, Timestamp: timestamp})
	}

	// map iteration order is random
	retention.SortOldestFirst(records)

	return records, nil
}

// DeleteDigest untags image@digest and then deletes the manifest, gcr refuses deleting tagged manifests.
func (c *Client) DeleteDigest(ctx context.Context, image, digest string) error {
	repo, err := name.NewRepository(image)
	if err != nil {
		return fmt.Errorf("%w: %w", zerr.ErrDeleteDigest, err)
	}

	tags, err := c.list(ctx, repo)
	if err != nil {
		return fmt.Errorf("%w: %s@%s: %w", zerr.ErrDeleteDigest, image, digest, err)
	}

	if info, ok := tags.Manifests[digest]; ok {
		for _, tag := range info.Tags {
			if err := c.delete(ctx, repo.Tag(tag)); err != nil {
				return fmt.Errorf("%w: %s:%s: %w", zerr.ErrDeleteDigest, image, tag, err)
			}

			c.log.Debug().Str("image", image).Str("tag", tag).Msg("deleted tag")
		}
	}

	if err := c.delete(ctx, repo.Digest(digest)); err != nil {
		return fmt.Errorf("%w: %s@%s: %w", zerr.ErrDeleteDigest, image, digest, err)
	}

	c.log.Info().Str("image", image).Str("digest", digest).Msg("deleted digest")

	return nil
}

func listWithKeychain(keychain authn.Keychain) ListFn {
	return func(ctx context.Context, repo name.Repository) (*google.Tags, error) {
		return google.List(repo, google.WithContext(ctx), google.WithAuthFromKeychain(keychain))
	}
}

func deleteWithKeychain(keychain authn.Keychain) DeleteFn {
	return func(ctx context.Context, ref name.Reference) error {
		return remote.Delete(ref, remote.WithContext(ctx), remote.WithAuthFromKeychain(keychain))
	}
}
