// ABOUTME: Build and product identification
// ABOUTME: Reported by the version command and in stream metadata
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.3.0"

const (
	Product      = "soundcast"
	Manufacturer = "Resonate Protocol"
)

// String returns the product and version
func String() string {
	return Product + " " + Version
}
