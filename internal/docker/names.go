package docker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NamePrefix is used for all plexup resource names.
const NamePrefix = "plexup"

// ContainerName generates a container name: plexup.<destination>.<short-id>.
// The random suffix keeps retried bootstraps from colliding with a stale
// container that force-removal has not finished reaping yet.
func ContainerName(destination string) string {
	short := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s.%s.%s", NamePrefix, sanitize(destination), short)
}

// ContainerNamePrefix returns the filter prefix for a destination: plexup.<destination>.
func ContainerNamePrefix(destination string) string {
	return fmt.Sprintf("%s.%s.", NamePrefix, sanitize(destination))
}

// ParseContainerName extracts the destination from a container name.
// Returns empty string and false if the name doesn't match the format.
func ParseContainerName(name string) (destination string, ok bool) {
	// Docker adds a leading slash to names it reports.
	name = strings.TrimPrefix(name, "/")
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[0] != NamePrefix {
		return "", false
	}
	return parts[1], true
}

// MatchesDestination reports whether a container name was generated by
// ContainerName for the given destination. Labels can be copied onto foreign
// containers by other tooling; the name scheme is ours alone, so removal
// requires both to agree.
func MatchesDestination(name, destination string) bool {
	dest, ok := ParseContainerName(name)
	return ok && dest == sanitize(destination)
}

// sanitize makes a label safe for use inside a dot-separated container name.
func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, s)
}
