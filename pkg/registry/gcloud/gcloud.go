// Package gcloud lists and deletes images by running the gcloud cli with the credentials of the logged in user.
package gcloud

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	zerr "zotregistry.dev/zprune/errors"
	zlog "zotregistry.dev/zprune/pkg/log"
	"zotregistry.dev/zprune/pkg/retention"
	"zotregistry.dev/zprune/pkg/retention/types"
)

const binary = "gcloud"

//nolint:gochecknoglobals
var timestampLayouts = []string{
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05-0700",
	time.RFC3339Nano,
}

// Runner executes gcloud with args and returns its stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

type Client struct {
	run Runner
	log zlog.Logger
}

func NewClient(log zlog.Logger) *Client {
	return NewClientWithRunner(execRunner, log)
}

func NewClientWithRunner(run Runner, log zlog.Logger) *Client {
	return &Client{run: run, log: log}
}

type imageEntry struct {
	Name string `json:"name"`
}

type timestampEntry struct {
	Datetime string `json:"datetime"`
}

type digestEntry struct {
	Digest    string         `json:"digest"`
	Tags      []string       `json:"tags"`
	Timestamp timestampEntry `json:"timestamp"`
}

// ListImages returns the images of repository, an empty repository means the current gcloud project.
func (c *Client) ListImages(ctx context.Context, repository string) ([]string, error) {
	args := []string{"container", "images", "list", "--format", "json"}
	if repository != "" {
		args = append(args, "--repository", repository)
	}

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", zerr.ErrListImages, err)
	}

	json := jsoniter.ConfigCompatibleWithStandardLibrary

	var entries []imageEntry
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", zerr.ErrListImages, zerr.ErrBadRegistryResp, err)
	}

	images := make([]string, 0, len(entries))
	for _, entry := range entries {
		images = append(images, entry.Name)
	}

	return images, nil
}

func (c *Client) ListDigests(ctx context.Context, image string) ([]types.DigestRecord, error) {
	out, err := c.run(ctx, "container", "images", "list-tags", image,
		"--limit", "unlimited", "--sort-by", "timestamp", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", zerr.ErrListDigests, image, err)
	}

	return ParseDigests(out)
}

// DeleteDigest deletes image@digest along with all the tags pointing to it.
func (c *Client) DeleteDigest(ctx context.Context, image, digest string) error {
	_, err := c.run(ctx, "container", "images", "delete", image+"@"+digest, "--force-delete-tags", "--quiet")
	if err != nil {
		return fmt.Errorf("%w: %s@%s: %w", zerr.ErrDeleteDigest, image, digest, err)
	}

	c.log.Info().Str("image", image).Str("digest", digest).Msg("deleted digest")

	return nil
}

// ParseDigests decodes the json output of `gcloud container images list-tags --format json`.
func ParseDigests(data []byte) ([]types.DigestRecord, error) {
	json := jsoniter.ConfigCompatibleWithStandardLibrary

	var entries []digestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", zerr.ErrListDigests, zerr.ErrBadRegistryResp, err)
	}

	records := make([]types.DigestRecord, 0, len(entries))

	for _, entry := range entries {
		digest, err := retention.ParseDigest(entry.Digest)
		if err != nil {
			return nil, err
		}

		timestamp, err := ParseTimestamp(entry.Timestamp.Datetime)
		if err != nil {
			return nil, fmt.Errorf("%w: digest %s", err, digest)
		}

		tags := entry.Tags
		if tags == nil {
			tags = []string{}
		}

		records = append(records, types.DigestRecord{Digest: digest, Tags: tags, Timestamp: timestamp})
	}

	return records, nil
}

// ParseTimestamp parses gcloud datetimes, eg: 2023-04-05 10:11:12-04:00.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if timestamp, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return timestamp, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", zerr.ErrInvalidTimestamp, value)
}

func execRunner(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w", msg, err)
		}

		return nil, err
	}

	return stdout.Bytes(), nil
}
