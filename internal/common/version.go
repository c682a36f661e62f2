package common

// Build-time variables, set via -ldflags.
var (
	version   = "dev"
	build     = "local"
	gitCommit = "unknown"
)

// GetVersion returns the semantic version.
func GetVersion() string { return version }

// GetBuild returns the build identifier.
func GetBuild() string { return build }

// GetGitCommit returns the git commit the binary was built from.
func GetGitCommit() string { return gitCommit }
