package retention

import (
	"fmt"
	"sort"

	godigest "github.com/opencontainers/go-digest"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/retention/types"
)

// ValidateRecords checks the records of one image before any rule is applied.
func ValidateRecords(records []types.DigestRecord) error {
	seen := make(map[string]struct{}, len(records))

	for _, record := range records {
		if record.Digest == "" {
			return fmt.Errorf("%w: empty digest", zerr.ErrInvalidDigest)
		}

		if _, ok := seen[record.Digest]; ok {
			return fmt.Errorf("%w: %s", zerr.ErrDuplicateDigest, record.Digest)
		}

		seen[record.Digest] = struct{}{}

		if record.Timestamp.IsZero() {
			return fmt.Errorf("%w: digest %s has no timestamp", zerr.ErrInvalidTimestamp, record.Digest)
		}

		for _, tag := range record.Tags {
			if tag == "" {
				return fmt.Errorf("%w: digest %s has an empty tag", zerr.ErrInvalidTag, record.Digest)
			}
		}
	}

	return nil
}

// ParseDigest validates a digest string coming from a registry, eg: sha256:<64 hex chars>.
func ParseDigest(digestStr string) (string, error) {
	digest, err := godigest.Parse(digestStr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", zerr.ErrInvalidDigest, digestStr, err)
	}

	return digest.String(), nil
}

// SortNewestFirst sorts records by descending timestamp, ties by digest.
func SortNewestFirst(records []types.DigestRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Digest < records[j].Digest
		}

		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

// SortOldestFirst sorts records by ascending timestamp, ties by digest.
func SortOldestFirst(records []types.DigestRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Digest < records[j].Digest
		}

		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
