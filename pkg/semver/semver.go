package semver

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

var errInvalidValue = errors.New("Invalid semver value")

// Compare returns:
// -1 if v < w, 0 if v == w, or +1 if v > w.
func Compare(v string, w string) (int, error) {
	val1 := "v" + v
	val2 := "v" + w

	if !semver.IsValid(val1) {
		return 0, errors.Wrapf(errInvalidValue, "first value: %s", val1)
	}

	if !semver.IsValid(val2) {
		return 0, errors.Wrapf(errInvalidValue, "second value: %s", val2)
	}

	return semver.Compare(val1, val2), nil
}

func IsValid(val string) bool {
	return semver.IsValid("v" + val)
}

// MajorMinor reduces a version to its major.minor prefix, e.g. "1.16.2"
// becomes "1.16". Clusters report versions with vendor suffixes
// ("1.21.4-gke.301") and those stay valid here.
func MajorMinor(val string) (string, error) {
	mm := semver.MajorMinor("v" + val)
	if mm == "" {
		return "", errors.Wrapf(errInvalidValue, "value: %s", val)
	}
	return strings.TrimPrefix(mm, "v"), nil
}
