package version

import "fmt"

const (
	Major = 0
	Minor = 3
	Patch = 0
)

// Commit is set at build time with -ldflags "-X .../version.Commit=...".
var Commit = "dev"

func API() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}

func String() string {
	return fmt.Sprintf("forum %s (%s)", API(), Commit)
}
