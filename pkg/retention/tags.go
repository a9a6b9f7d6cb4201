package retention

import "regexp"

//nolint:gochecknoglobals
var (
	// numericRegexp is a version component, zero or a number without leading zeros.
	numericRegexp = `(0|[1-9]\d*)`

	// identifierRegexp is a pre-release identifier, numeric ones can't have leading zeros.
	identifierRegexp = `(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)`

	// semverRegexp matches the full semantic versioning 2.0.0 grammar with an optional leading 'v'.
	semverRegexp = regexp.MustCompile(`(?i)^v?` + numericRegexp + `\.` + numericRegexp + `\.` + numericRegexp +
		`(?:-(` + identifierRegexp + `(?:\.` + identifierRegexp + `)*))?` +
		`(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

	// partialVersionRegexp matches rolling minor tags such as v2.3.
	partialVersionRegexp = regexp.MustCompile(`(?i)^v?` + numericRegexp + `\.` + numericRegexp + `$`)

	latestRegexp = regexp.MustCompile(`(?i)^\s*latest\s*$`)
)

const (
	semverTagName  = "semver"
	partialTagName = "partialVersion"
	latestTagName  = "latest"
)

// IsSemver reports whether tag is a full semantic version, eg: v1.2.3-rc.1+build.5.
func IsSemver(tag string) bool {
	return semverRegexp.MatchString(tag)
}

// IsPartialVersion reports whether tag is a MAJOR.MINOR version, eg: v2.3.
func IsPartialVersion(tag string) bool {
	return partialVersionRegexp.MatchString(tag)
}

func IsLatest(tag string) bool {
	return latestRegexp.MatchString(tag)
}

// ProtectingTag returns the first tag which alone protects its digest from deletion,
// along with the shape it matched.
func ProtectingTag(tags []string) (string, string, bool) {
	for _, tag := range tags {
		switch {
		case IsSemver(tag):
			return tag, semverTagName, true
		case IsPartialVersion(tag):
			return tag, partialTagName, true
		case IsLatest(tag):
			return tag, latestTagName, true
		}
	}

	return "", "", false
}

// IsTagProtected reports whether any of the tags protects the digest.
func IsTagProtected(tags []string) bool {
	_, _, ok := ProtectingTag(tags)

	return ok
}
