package bxfile

// Version constants for the on-disk format this package reads and writes.
const (
	Major = 0
	Minor = 1
	Patch = 0

	// DataVersion is the on-disk format version stamped into the file
	// header and area-manage table header. Bump when either layout
	// changes in a way that breaks bit-exact compatibility.
	DataVersion = 1
)

// Version returns the package version string.
func Version() string {
	return "bxfile 0.1.0"
}
