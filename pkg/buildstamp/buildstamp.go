package buildstamp

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ldflags will provide these values. See scripts/build/ldflags.sh for details
// on how they are computed.
var (
	// BuildTimestamp is the timestamp at which the binary was built in ISO 8601
	// format.
	BuildTimestamp string

	// Commit is the git commit hash of the revision used to build the binary.
	Commit string

	// CommitTimestamp is the timestamp of the commit used to build the binary in
	// ISO 8601 format.
	CommitTimestamp string

	// ReleaseTag is the tag of the revision used to build the binary as provided
	// by `git describe`. In general, it's something like: "a968903-dirty"
	ReleaseTag string

	// VersionNumber is the version number in semver format MAJOR.MINOR.PATCH
	VersionNumber string

	// PrereleaseTag tells us what edition of pre-release this is. Usually, "dev".
	PrereleaseTag string

	// CicdBuildRelease is set when the binary was built through CICD
	CicdBuildRelease string

	// BundledKubectlVersion is the kubectl release packaged alongside the
	// binary. It is the fallback when version-specific provisioning fails.
	BundledKubectlVersion string

	// BundledKubectlDir is the directory, relative to the executable, that
	// holds the packaged kubectl.
	BundledKubectlDir string
)

type BuildStamper interface {
	Version() string
	IsCicdReleasedBinary() bool
	IsDevBinary() bool
	BundledKubectl() string
}

type buildStamp struct{}

func Get() *buildStamp {
	return &buildStamp{}
}

// Version returns a short version string of the form: 0.1.0-dev20221005+379c1d11-dirty
func (b *buildStamp) Version() string {
	if strings.TrimSpace(PrereleaseTag) == "" {
		return VersionNumber
	}
	date := strings.ReplaceAll(CommitTimestamp, ".", "")
	return strings.TrimSpace(fmt.Sprintf(
		"%s-%s%s+%s",
		VersionNumber,
		PrereleaseTag,
		date,
		ReleaseTag,
	))
}

// BundledKubectl resolves the absolute path of the packaged kubectl binary.
// The KUBEDECK_BUNDLED_KUBECTL environment variable overrides it, which is
// how development builds point at a locally installed kubectl.
func (b *buildStamp) BundledKubectl() string {
	if override := os.Getenv("KUBEDECK_BUNDLED_KUBECTL"); override != "" {
		return override
	}
	dir := BundledKubectlDir
	if dir == "" {
		dir = "resources"
	}
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	name := "kubectl"
	if runtime.GOOS == "windows" {
		name = "kubectl.exe"
	}
	return filepath.Join(filepath.Dir(exe), dir, name)
}

// PrintVerboseVersion prints a verbose listing of the version variables
// to the io.Writer argument
func PrintVerboseVersion(w io.Writer) {
	fmt.Fprint(w, "\n")
	fmt.Fprintf(w, "Version Number: %v\n", VersionNumber)
	fmt.Fprintf(w, "Prerelease Tag: %v\n", PrereleaseTag)
	fmt.Fprintf(w, "Release:        %v\n", ReleaseTag)
	fmt.Fprintf(w, "Commit:         %v\n", Commit)
	fmt.Fprintf(w, "Commit Date:    %v\n", CommitTimestamp)
	fmt.Fprint(w, "\n")
	fmt.Fprintf(w, "Build Date:       %v\n", BuildTimestamp)
	fmt.Fprintf(w, "Bundled kubectl:  %v\n", BundledKubectlVersion)
	fmt.Fprintf(w, "Runtime:          %v\n", runtime.Version())
	fmt.Fprintf(w, "CI/CD:            %v\n", CicdBuildRelease)
}

func (b *buildStamp) IsCicdReleasedBinary() bool {
	return CicdBuildRelease == "prod"
}

func (b *buildStamp) IsDevBinary() bool {
	// If this is missing, just assume dev.
	return CicdBuildRelease == "" || CicdBuildRelease == "dev"
}
