package profiler

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// satisfies reports whether version meets constraint. An empty version never
// satisfies a constraint.
func satisfies(version, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid runtime constraint %q: %w", constraint, err)
	}
	if version == "" {
		return false, fmt.Errorf("runtime version unknown, constraint %s cannot be checked", constraint)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid runtime version %q: %w", version, err)
	}
	return c.Check(v), nil
}
