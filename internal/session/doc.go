// Package session implements one client's replica of a shared play
// session. Replicas converge by exchanging events over the transport:
// there is no lock-holding server, only deterministic conflict
// resolution (first writer by completion time, ties by player id) and
// idempotent replay. Each replica serializes local commands, inbound
// transport events and the snapshot cadence onto a single goroutine; the
// apply functions never block.
//
// Moderation authority is advisory, not a security boundary: replicas
// ignore kick and reset events whose sender is not the host they know,
// but the transport enforces nothing. This is an accepted trust model
// for a cooperative, low-stakes game.
package session
