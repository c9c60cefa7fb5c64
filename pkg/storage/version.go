package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// semver is a minimal major.minor.patch triple; full semver parsing
// (pre-release/build metadata) is unneeded for the upgrade-gate rule.
type semver struct {
	Major, Minor, Patch int
}

func parseSemver(s string) (semver, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	if len(parts) != 3 {
		return semver{}, fmt.Errorf("malformed version %q", s)
	}
	var v semver
	var err error
	if v.Major, err = strconv.Atoi(parts[0]); err != nil {
		return semver{}, fmt.Errorf("malformed version %q: %w", s, err)
	}
	if v.Minor, err = strconv.Atoi(parts[1]); err != nil {
		return semver{}, fmt.Errorf("malformed version %q: %w", s, err)
	}
	if v.Patch, err = strconv.Atoi(parts[2]); err != nil {
		return semver{}, fmt.Errorf("malformed version %q: %w", s, err)
	}
	return v, nil
}

func (v semver) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

// CheckVersionUpgrade enforces the version-stamp rule: a stored version may
// be opened by engineVersion only if major and minor match and the patch
// delta is <= 1. It returns a descriptive error naming the acceptable range
// otherwise.
func CheckVersionUpgrade(stored, engineVersion string) error {
	storedV, err := parseSemver(stored)
	if err != nil {
		return err
	}
	engineV, err := parseSemver(engineVersion)
	if err != nil {
		return err
	}

	if storedV.Major != engineV.Major || storedV.Minor != engineV.Minor {
		return fmt.Errorf("cannot open collection written by version %s with engine %s: major.minor must match (acceptable range %d.%d.x)", storedV, engineV, storedV.Major, storedV.Minor)
	}

	delta := engineV.Patch - storedV.Patch
	if delta < 0 {
		delta = -delta
	}
	if delta > 1 {
		return fmt.Errorf("cannot open collection written by version %s with engine %s: patch delta must be <= 1 (acceptable range %d.%d.%d-%d)", storedV, engineV, storedV.Major, storedV.Minor, storedV.Patch-1, storedV.Patch+1)
	}
	return nil
}

// WriteVersionFile writes the version file at the given collection root.
func WriteVersionFile(root, version string) error {
	return os.WriteFile(filepath.Join(root, "version"), []byte(version), 0o644)
}

// ReadVersionFile reads the version file at the given collection root.
func ReadVersionFile(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "version"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
