// Package sessionid encodes the owning cache node inside an opaque session
// identifier.
//
// The wire form is "<base>-<node>" with an optional routing marker appended
// after a dot: "<base>-<node>.<route>". The base part is never interpreted;
// the codec only strips, reads, and rewrites the node suffix.
package sessionid

import "strings"

// ExtractNodeID returns the node identifier encoded in id, or "" when the id
// carries no well-formed node suffix.
func ExtractNodeID(id string) string {
	base, node, _ := split(id)
	if base == "" {
		return ""
	}
	return node
}

// IsValid reports whether id has a non-empty base and a well-formed node
// suffix. Malformed input yields false, never an error; callers treat an
// invalid id as "no owning node yet".
func IsValid(id string) bool {
	base, node, _ := split(id)
	return base != "" && node != ""
}

// WithNodeID rewrites the node suffix of id to nodeID, leaving the base and
// any routing marker untouched. An id without a node suffix gets one
// appended. An invalid nodeID token returns id unchanged.
func WithNodeID(id, nodeID string) string {
	if id == "" || !validToken(nodeID) {
		return id
	}
	base, _, route := split(id)
	if base == "" {
		// No node suffix present; the whole pre-route part is the base.
		base = id
		if dot := strings.IndexByte(id, '.'); dot >= 0 {
			base = id[:dot]
		}
	}
	if route != "" {
		return base + "-" + nodeID + "." + route
	}
	return base + "-" + nodeID
}

// StripNodeID returns id without its node suffix (routing marker preserved).
func StripNodeID(id string) string {
	base, node, route := split(id)
	if base == "" || node == "" {
		return id
	}
	if route != "" {
		return base + "." + route
	}
	return base
}

// split separates id into base, node and route components. base is "" when
// no well-formed node suffix exists.
func split(id string) (base, node, route string) {
	head := id
	if dot := strings.IndexByte(id, '.'); dot >= 0 {
		head = id[:dot]
		route = id[dot+1:]
	}
	dash := strings.LastIndexByte(head, '-')
	if dash <= 0 || dash == len(head)-1 {
		return "", "", route
	}
	node = head[dash+1:]
	if !validToken(node) {
		return "", "", route
	}
	return head[:dash], node, route
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
