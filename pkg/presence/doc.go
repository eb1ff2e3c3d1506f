// Package presence keeps the set of reachable UDP endpoints.
//
// Endpoints announce themselves with heartbeats. Each broadcast cycle calls
// DecayTick, so an endpoint that misses DefaultLiveness consecutive cycles is
// evicted. Heartbeats with a timestamp not newer than the last one seen for the
// same name are ignored.
package presence
