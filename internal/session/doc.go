// Package session implements the per-connection lifecycle: frame intake,
// segmentation, ordered backend dispatch, transcript filtering and delivery,
// and keepalive. One session owns one WebSocket connection and at most one
// outstanding backend call at a time.
package session
