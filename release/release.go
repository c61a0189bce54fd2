// Package release computes calendar versions of the form YEAR.MONTH.PATCH
// with an optional suffix, for example 2025.3.2-beta.
package release

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind selects how Bump derives the next version.
type Kind string

const (
	Stable  Kind = "stable"
	Beta    Kind = "beta"
	Nightly Kind = "nightly"
	Dev     Kind = "dev"
)

// Kinds lists the accepted kinds in display order.
var Kinds = []Kind{Nightly, Beta, Stable, Dev}

// DefaultFile is the version file read and written by the CLI.
const DefaultFile = "VERSION"

// Zero is reported for a missing or unparseable version.
const Zero = "0.0.0"

var versionRE = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-(.+))?$`)

// Version is a parsed calendar version.
type Version struct {
	Year, Month, Patch int
	Suffix             string
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Year, v.Month, v.Patch)
	if v.Suffix != "" {
		s += "-" + v.Suffix
	}
	return s
}

// Parse reads s. Anything that does not match YEAR.MONTH.PATCH[-SUFFIX]
// yields the zero Version and false.
func Parse(s string) (Version, bool) {
	m := versionRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Version{}, false
	}
	var v Version
	var err error
	if v.Year, err = strconv.Atoi(m[1]); err != nil {
		return Version{}, false
	}
	if v.Month, err = strconv.Atoi(m[2]); err != nil {
		return Version{}, false
	}
	if v.Patch, err = strconv.Atoi(m[3]); err != nil {
		return Version{}, false
	}
	v.Suffix = m[4]
	return v, true
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("release: unknown kind %q", s)
}

// Bump returns the version following current for the given kind at now.
//
// The patch number resets to 1 whenever now falls in a different year or
// month than current. Stable keeps the patch otherwise; Dev advances it.
// Nightly appends a UTC timestamp. An unknown kind returns current unchanged.
func Bump(kind Kind, current string, now time.Time) string {
	now = now.UTC()
	cur, _ := Parse(current)
	year, month := now.Year(), int(now.Month())
	sameMonth := cur.Year == year && cur.Month == month

	next := Version{Year: year, Month: month, Patch: 1}
	if sameMonth {
		next.Patch = cur.Patch
	}

	switch kind {
	case Stable:
	case Beta:
		next.Suffix = "beta"
	case Nightly:
		next.Suffix = "nightly." + now.Format("20060102.1504")
	case Dev:
		if sameMonth {
			next.Patch = cur.Patch + 1
		}
		next.Suffix = "dev"
	default:
		return current
	}
	return next.String()
}

// ReadFile returns the trimmed contents of path, or Zero if it does not exist.
func ReadFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Zero, nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// WriteFile replaces path with version and no trailing newline.
func WriteFile(path, version string) error {
	return os.WriteFile(path, []byte(version), 0o644)
}
