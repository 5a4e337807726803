// Package nodes maintains the directory of reachable cache nodes and the
// disjoint set of failover-only nodes. The active node set is an immutable
// snapshot behind an atomic pointer: resolution never blocks on
// reconfiguration, and an operation keeps working against the snapshot it
// started with.
package nodes

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors.
var (
	ErrNotFound         = errors.New("nodes: unknown node")
	ErrNoNodesAvailable = errors.New("nodes: no nodes available")
)

// Role separates nodes normally eligible to own sessions from nodes used
// only as relocation targets.
type Role int

const (
	RolePrimary Role = iota
	RoleFailover
)

func (r Role) String() string {
	if r == RoleFailover {
		return "failover"
	}
	return "primary"
}

// Node is one directory entry.
type Node struct {
	ID   string
	Addr string
	Role Role
}

// Parse reads the node list grammar: space-separated "id:host:port" entries,
// plus a space-separated list of ids that are failover-only. Every failover
// id must appear in the node list.
func Parse(nodeSpec, failoverIDs string) ([]Node, error) {
	fields := strings.Fields(nodeSpec)
	if len(fields) == 0 {
		return nil, errors.New("nodes: empty node list")
	}
	failover := make(map[string]bool)
	for _, id := range strings.Fields(failoverIDs) {
		failover[id] = true
	}
	seenID := make(map[string]bool, len(fields))
	seenAddr := make(map[string]string, len(fields))
	out := make([]Node, 0, len(fields))
	for _, field := range fields {
		id, addr, ok := strings.Cut(field, ":")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("nodes: malformed entry %q, want id:host:port", field)
		}
		if !validNodeID(id) {
			return nil, fmt.Errorf("nodes: invalid node id %q", id)
		}
		if !strings.Contains(addr, ":") {
			return nil, fmt.Errorf("nodes: entry %q missing port", field)
		}
		if seenID[id] {
			return nil, fmt.Errorf("nodes: duplicate node id %q", id)
		}
		if prev, ok := seenAddr[addr]; ok {
			return nil, fmt.Errorf("nodes: address %q mapped to both %q and %q", addr, prev, id)
		}
		seenID[id] = true
		seenAddr[addr] = id
		role := RolePrimary
		if failover[id] {
			role = RoleFailover
			delete(failover, id)
		}
		out = append(out, Node{ID: id, Addr: addr, Role: role})
	}
	if len(failover) > 0 {
		unknown := make([]string, 0, len(failover))
		for id := range failover {
			unknown = append(unknown, id)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("nodes: failover ids %v not in node list", unknown)
	}
	return out, nil
}

func validNodeID(s string) bool {
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
