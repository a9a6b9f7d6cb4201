// Package ecr implements the registry client for Amazon Elastic Container Registry.
package ecr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/smithy-go"

	zerr "zotregistry.dev/zprune/errors"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/retention"
	"zotregistry.dev/zprune/pkg/retention/types"
)

// API is the subset of the ecr client used here.
type API interface {
	ecr.DescribeRepositoriesAPIClient
	ecr.DescribeImagesAPIClient
	BatchDeleteImage(ctx context.Context, params *ecr.BatchDeleteImageInput,
		optFns ...func(*ecr.Options)) (*ecr.BatchDeleteImageOutput, error)
}

const repositoryNotFound = "RepositoryNotFoundException"

type Client struct {
	api API
	log zlog.Logger
}

// NewClient loads the default aws configuration (env, shared config, instance role) for region.
func NewClient(ctx context.Context, region string, log zlog.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load aws config: %w", zerr.ErrBadConfig, err)
	}

	return NewClientWithAPI(ecr.NewFromConfig(cfg), log), nil
}

func NewClientWithAPI(api API, log zlog.Logger) *Client {
	return &Client{api: api, log: log}
}

// ListImages returns the ecr repositories whose name starts with repository.
// A registry host prefix (account.dkr.ecr.region.amazonaws.com/) is ignored.
func (c *Client) ListImages(ctx context.Context, repository string) ([]string, error) {
	prefix := repositoryName(repository)
	images := []string{}

	paginator := ecr.NewDescribeRepositoriesPaginator(c.api, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", zerr.ErrListImages, err)
		}

		for _, repo := range page.Repositories {
			repoName := aws.ToString(repo.RepositoryName)
			if prefix == "" || repoName == prefix || strings.HasPrefix(repoName, strings.TrimSuffix(prefix, "/")+"/") {
				images = append(images, repoName)
			}
		}
	}

	return images, nil
}

func (c *Client) ListDigests(ctx context.Context, image string) ([]types.DigestRecord, error) {
	records := []types.DigestRecord{}

	paginator := ecr.NewDescribeImagesPaginator(c.api, &ecr.DescribeImagesInput{
		RepositoryName: aws.String(repositoryName(image)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			// the repository was removed after it was listed
			if apiErrorCode(err) == repositoryNotFound {
				c.log.Warn().Str("image", image).Msg("repository not found, nothing to prune")

				return []types.DigestRecord{}, nil
			}

			return nil, fmt.Errorf("%w: %s: %w", zerr.ErrListDigests, image, err)
		}

		for _, detail := range page.ImageDetails {
			digest, err := retention.ParseDigest(aws.ToString(detail.ImageDigest))
			if err != nil {
				return nil, err
			}

			tags := detail.ImageTags
			if tags == nil {
				tags = []string{}
			}

			records = append(records, types.DigestRecord{
				Digest:    digest,
				Tags:      tags,
				Timestamp: aws.ToTime(detail.ImagePushedAt),
			})
		}
	}

	return records, nil
}

func (c *Client) DeleteDigest(ctx context.Context, image, digest string) error {
	out, err := c.api.BatchDeleteImage(ctx, &ecr.BatchDeleteImageInput{
		RepositoryName: aws.String(repositoryName(image)),
		ImageIds:       []ecrtypes.ImageIdentifier{{ImageDigest: aws.String(digest)}},
	})
	if err != nil {
		c.log.Error().Err(err).Str("image", image).Str("digest", digest).Str("code", apiErrorCode(err)).
			Msg("failed to delete digest")

		return fmt.Errorf("%w: %s@%s: %w", zerr.ErrDeleteDigest, image, digest, err)
	}

	if len(out.Failures) > 0 {
		failure := out.Failures[0]

		return fmt.Errorf("%w: %s@%s: %s: %s", zerr.ErrDeleteDigest, image, digest,
			failure.FailureCode, aws.ToString(failure.FailureReason))
	}

	c.log.Info().Str("image", image).Str("digest", digest).Msg("deleted digest")

	return nil
}

// apiErrorCode returns the aws error code of err, if any.
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}

	return ""
}

func repositoryName(repository string) string {
	host, rest, found := strings.Cut(repository, "/")
	if found && strings.Contains(host, ".amazonaws.com") {
		return rest
	}

	if !found && strings.Contains(host, ".amazonaws.com") {
		return ""
	}

	return repository
}
