// Package audio provides per-session audio segmentation and WAV encoding.
// The Segmenter accumulates raw PCM16 frames and emits bounded segments on
// duration or sustained-silence boundaries; EncodeWAV wraps segments for the
// recognition backend.
package audio
