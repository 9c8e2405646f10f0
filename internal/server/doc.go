// Package server implements the WebSocket bridge server and the HTTP
// monitoring API. The bridge server authenticates inbound connections and
// supervises one session goroutine per accepted connection.
package server
