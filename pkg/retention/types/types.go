package types

import (
	"context"
	"time"
)

// DigestRecord is one content-addressed version of an image.
type DigestRecord struct {
	Digest    string
	Tags      []string
	Timestamp time.Time
}

func (r DigestRecord) IsTagged() bool {
	return len(r.Tags) > 0
}

type Policy struct {
	// MinKeep is the number of tagged digests retained regardless of age.
	MinKeep int
	// GracePeriod protects digests younger than it regardless of their tags.
	GracePeriod time.Duration
}

// Plan is the outcome of classifying the digests of one image.
// Keep is ordered newest first, Delete oldest first.
type Plan struct {
	Image  string
	Keep   []DigestRecord
	Delete []DigestRecord
	// Reasons maps each digest to the rule which decided its fate.
	Reasons map[string]string
}

type PolicyManager interface {
	GetPolicy(image string) Policy
	Plan(image string, records []DigestRecord, now time.Time) (Plan, error)
}

type Rule interface {
	Name() string
	// Perform splits candidates in the ones retained by the rule and the rest, both keep input order.
	Perform(candidates []DigestRecord) (retained, rest []DigestRecord)
}

type Lister interface {
	ListImages(ctx context.Context, repository string) ([]string, error)
	ListDigests(ctx context.Context, image string) ([]DigestRecord, error)
}

type Deleter interface {
	DeleteDigest(ctx context.Context, image, digest string) error
}

// RegistryClient is what a registry backend implements.
type RegistryClient interface {
	Lister
	Deleter
}
