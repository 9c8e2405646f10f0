// Package whisper implements the HTTP client for the offline recognition
// backend. Segments are submitted one at a time as multipart WAV uploads;
// outcomes are classified as ok, timeout, or error so callers can drop
// failed segments without tearing down the session.
package whisper
