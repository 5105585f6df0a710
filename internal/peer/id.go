// Package peer defines PeerId, the address-based identity peers use to
// recognize each other and resolve concurrent dials.
package peer

import "fmt"

// Id is a peer's advertised (ip, tcp_port), the canonical identity used to
// deduplicate sessions and reject self-discovery.
type Id struct {
	IP   string
	Port int
}

func (id Id) String() string {
	return fmt.Sprintf("%s:%d", id.IP, id.Port)
}

// Less reports whether id sorts before other under the lexicographic
// ordering the registry uses to tie-break simultaneous dials: the lower
// PeerId keeps its own outbound session.
func (id Id) Less(other Id) bool {
	return id.String() < other.String()
}
