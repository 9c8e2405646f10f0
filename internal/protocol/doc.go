// Package protocol defines the wire format spoken with the conferencing
// gateway: the fixed 60-byte metadata header carried by every inbound binary
// audio message, and the JSON transcript messages sent back.
package protocol
