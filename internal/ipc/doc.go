// Package ipc carries store traffic between processes: the update-persistent
// call from secondaries to the primary and the persistent-<name>-updated
// broadcasts from the primary to every secondary.
//
// The primary serves both over loopback HTTP (see package api); Hub fans
// notifications out to server-sent-event subscribers and Client is the
// secondary side. NATS can carry the broadcasts instead when several hosts
// share one broker.
package ipc
