package version

var (
	// Version is the current application version. Populated by the build
	// system (ldflags), with a fallback for plain go build.
	Version = "v0.5.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
