// Package stats holds the lock-free counters and latency probes gathered by
// the backup subsystem. A Registry is constructed either enabled or disabled;
// the disabled variant performs no allocation and no synchronization.
package stats

import (
	"fmt"
	"sort"
)

// Counter identifies one of the registry's monotonic counters.
type Counter int

const (
	CounterBackups Counter = iota
	CounterBackupFailures
	CounterSkipsNoSessionAccess
	CounterSkipsNoAttributeAccess
	CounterRelocations
	CounterNoNodesAvailable
	CounterSessionsRestored
	CounterSessionsRemoved
	CounterExpirationUpdates
	numCounters
)

var counterNames = [numCounters]string{
	"backups",
	"backup_failures",
	"skips_no_session_access",
	"skips_no_attribute_access",
	"relocations",
	"no_nodes_available",
	"sessions_restored",
	"sessions_removed",
	"expiration_updates",
}

// Name returns the stable diagnostic name of c.
func (c Counter) Name() string {
	if c < 0 || c >= numCounters {
		return "unknown"
	}
	return counterNames[c]
}

// ProbeID identifies one of the registry's min/max/avg probes.
type ProbeID int

const (
	ProbeEffectiveBackup ProbeID = iota
	ProbeBackup
	ProbeAttributeSerialization
	ProbeStoreUpdate
	ProbeRestore
	ProbeCachedDataSize
	numProbes
)

var probeNames = [numProbes]string{
	"effective_backup",
	"backup",
	"attribute_serialization",
	"store_update",
	"restore",
	"cached_data_size",
}

// Name returns the stable diagnostic name of p.
func (p ProbeID) Name() string {
	if p < 0 || p >= numProbes {
		return "unknown"
	}
	return probeNames[p]
}

// Counters enumerates every counter id, in stable order.
func Counters() []Counter {
	out := make([]Counter, numCounters)
	for i := range out {
		out[i] = Counter(i)
	}
	return out
}

// Probes enumerates every probe id, in stable order.
func Probes() []ProbeID {
	out := make([]ProbeID, numProbes)
	for i := range out {
		out[i] = ProbeID(i)
	}
	return out
}

// Registry gathers counters and probes for the backup subsystem. All methods
// are safe for unbounded concurrent callers.
type Registry struct {
	enabled  bool
	counters [numCounters]counter
	probes   [numProbes]Probe
}

// New returns a Registry that either gathers statistics or discards
// everything, fixed for the registry's lifetime.
func New(enabled bool) *Registry {
	r := &Registry{enabled: enabled}
	for i := range r.probes {
		if enabled {
			r.probes[i] = newProbe()
		} else {
			r.probes[i] = noop{}
		}
	}
	return r
}

// Enabled reports whether the registry gathers data.
func (r *Registry) Enabled() bool {
	return r.enabled
}

// Inc advances counter c by one.
func (r *Registry) Inc(c Counter) {
	if !r.enabled || c < 0 || c >= numCounters {
		return
	}
	r.counters[c].inc()
}

// Counter returns the current value of c.
func (r *Registry) Counter(c Counter) uint64 {
	if c < 0 || c >= numCounters {
		return 0
	}
	return r.counters[c].value()
}

// Probe returns the probe registered under id. The returned probe is a no-op
// when the registry is disabled.
func (r *Registry) Probe(id ProbeID) Probe {
	if id < 0 || id >= numProbes {
		return noop{}
	}
	return r.probes[id]
}

// Snapshot returns the full registry contents as stable, human-readable
// key/value pairs.
func (r *Registry) Snapshot() map[string]string {
	out := make(map[string]string, int(numCounters)+int(numProbes)*4)
	for c := Counter(0); c < numCounters; c++ {
		out[c.Name()] = fmt.Sprintf("%d", r.Counter(c))
	}
	for id := ProbeID(0); id < numProbes; id++ {
		p := r.probes[id]
		out[id.Name()+".count"] = fmt.Sprintf("%d", p.Count())
		out[id.Name()+".min"] = fmt.Sprintf("%d", p.Min())
		out[id.Name()+".max"] = fmt.Sprintf("%d", p.Max())
		out[id.Name()+".avg"] = fmt.Sprintf("%.2f", p.Avg())
	}
	return out
}

// Keys returns the snapshot keys in stable sorted order.
func Keys(snapshot map[string]string) []string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
