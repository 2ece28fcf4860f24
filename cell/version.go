package cell

import "golang.org/x/mod/semver"

// Version information for the borrowcell runtime.
const (
	// Version is the current version of the cell package.
	Version = "0.3.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 3

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the cell package.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Variants lists the available cell variants.
	Variants []string
}

// GetInfo returns information about the cell package.
//
// Example:
//
//	info := cell.GetInfo()
//	fmt.Printf("borrowcell %s %v\n", info.Version, info.Variants)
func GetInfo() Info {
	return Info{
		Version:  Version,
		Variants: []string{"failing", "blocking"},
	}
}

// Compatible reports whether this runtime satisfies a minimum version
// requirement such as "v0.2.0" or "0.2". Versions are compared as semantic
// versions within the same major version. An invalid requirement is never
// satisfied.
func Compatible(required string) bool {
	if required == "" {
		return false
	}
	if required[0] != 'v' {
		required = "v" + required
	}
	if !semver.IsValid(required) {
		return false
	}
	current := "v" + Version
	if semver.Major(current) != semver.Major(required) {
		return false
	}
	return semver.Compare(current, required) >= 0
}
