package mocks

import (
	"context"

	"zotregistry.dev/zprune/pkg/retention/types"
)

type RegistryClientMock struct {
	ListImagesFn func(ctx context.Context, repository string) ([]string, error)

	ListDigestsFn func(ctx context.Context, image string) ([]types.DigestRecord, error)

	DeleteDigestFn func(ctx context.Context, image, digest string) error
}

func (client RegistryClientMock) ListImages(ctx context.Context, repository string) ([]string, error) {
	if client.ListImagesFn != nil {
		return client.ListImagesFn(ctx, repository)
	}

	return []string{}, nil
}

func (client RegistryClientMock) ListDigests(ctx context.Context, image string) ([]types.DigestRecord, error) {
	if client.ListDigestsFn != nil {
		return client.ListDigestsFn(ctx, image)
	}

	return []types.DigestRecord{}, nil
}

func (client RegistryClientMock) DeleteDigest(ctx context.Context, image, digest string) error {
	if client.DeleteDigestFn != nil {
		return client.DeleteDigestFn(ctx, image, digest)
	}

	return nil
}
