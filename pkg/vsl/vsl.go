package vsl

import "github.com/smazurov/videostream/internal/version"

// Version returns the library version string.
func Version() string {
	return version.String()
}
