// Package sessiond persists mutable server-side session state into a
// cluster of remote cache nodes, so sessions survive the failure or restart
// of the process that created them and relocate transparently when their
// owning node disappears.
//
// The owning node is encoded into the session identifier itself
// ("<base>-<node>"); on a failed write the backup layer picks an alternate
// node, rewrites the identifier, and retries once. Backups run either
// synchronously under a bounded timeout or asynchronously on a worker pool.
//
// The hosting session container drives the library: it hands sessions to
// Server.Backup on request completion and reads them back via
// Server.Restore after a container failover.
package sessiond
