package version

const APP = "trackcast"

// set by -ldflags "-X trackcast/internal/version.VERSION=... -X trackcast/internal/version.COMMIT=..."
var (
	VERSION = "dev"
	COMMIT  = "unknown"
)
