package prune

import (
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	zerr "zotregistry.dev/zprune/errors"
	"zotregistry.dev/zprune/pkg/retention/types"
)

const (
	TableFormat = "table"
	JSONFormat  = "json"
	YAMLFormat  = "yaml"
)

type DigestEntry struct {
	Digest    string    `json:"digest"    yaml:"digest"`
	Tags      []string  `json:"tags"      yaml:"tags"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Reason    string    `json:"reason"    yaml:"reason"`
}

type PlanEntry struct {
	Image  string        `json:"image"  yaml:"image"`
	Keep   []DigestEntry `json:"keep"   yaml:"keep"`
	Delete []DigestEntry `json:"delete" yaml:"delete"`
}

func NewPlanEntry(plan types.Plan) PlanEntry {
	return PlanEntry{
		Image:  plan.Image,
		Keep:   digestEntries(plan.Keep, plan.Reasons),
		Delete: digestEntries(plan.Delete, plan.Reasons),
	}
}

func digestEntries(records []types.DigestRecord, reasons map[string]string) []DigestEntry {
	entries := make([]DigestEntry, 0, len(records))

	for _, record := range records {
		entries = append(entries, DigestEntry{
			Digest:    record.Digest,
			Tags:      SortTags(record.Tags),
			Timestamp: record.Timestamp,
			Reason:    reasons[record.Digest],
		})
	}

	return entries
}

// WritePlan writes plan to out as json or yaml.
func WritePlan(out io.Writer, plan types.Plan, format string) error {
	entry := NewPlanEntry(plan)

	switch format {
	case JSONFormat:
		json := jsoniter.ConfigCompatibleWithStandardLibrary

		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")

		return encoder.Encode(entry)
	case YAMLFormat:
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)

		if err := encoder.Encode(entry); err != nil {
			return err
		}

		return encoder.Close()
	default:
		return fmt.Errorf("%w: %q", zerr.ErrUnknownFormat, format)
	}
}
