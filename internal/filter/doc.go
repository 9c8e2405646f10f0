// Package filter classifies transcripts against known recognizer artifacts
// ("hallucinations"): boilerplate phrases the backend emits on silence or
// noise. Rules are compiled once at startup into per-language and common
// pattern sets; matching is a pure lookup safe for concurrent use.
package filter
