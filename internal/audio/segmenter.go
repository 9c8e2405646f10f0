package audio

import (
	"math"
	"time"
)

// Segment is an immutable, bounded span of buffered audio selected for one
// backend transcription request. It is consumed exactly once and not
// retained after the backend call completes.
type Segment struct {
	PCM        []byte // PCM16 little-endian mono
	SampleRate int
	Language   string    // stamped by the owning session before dispatch
	StartTime  time.Time // capture start, diagnostics only
	Duration   time.Duration
}

// SegmenterConfig contains the segmentation tunables
type SegmenterConfig struct {
	SampleRate       int
	ChunkDuration    time.Duration // flush boundary for continuous audio
	MinBuffer        time.Duration // floor below which no segment is emitted
	SilenceThreshold float64       // RMS on the PCM16 scale
	SilenceFrames    int           // consecutive low-energy frames for an early flush
}

// Segmenter accumulates raw audio frames for one session and decides when a
// buffered span constitutes a complete segment: either the chunk duration is
// reached, or a sustained pause follows enough buffered audio. A Segmenter
// belongs exclusively to one session and is driven by a single logical
// stream of calls; it is not safe for concurrent use.
type Segmenter struct {
	config SegmenterConfig

	buffer     []byte
	start      time.Time
	silenceRun int
	voiced     bool // any frame since the last flush exceeded the threshold
	suspended  bool

	// Statistics
	framesPushed    uint64
	segmentsEmitted uint64
}

// NewSegmenter creates a segmenter for one session
func NewSegmenter(config SegmenterConfig) *Segmenter {
	return &Segmenter{
		config: config,
		buffer: make([]byte, 0, pcmBytes(config.SampleRate, config.ChunkDuration)),
	}
}

// Push appends one audio frame in receipt order and emits a segment when a
// flush condition fires. While the segmenter is suspended, frames keep
// accumulating and no segment is emitted until Resume.
func (s *Segmenter) Push(frame []byte) *Segment {
	if len(frame) == 0 {
		return nil
	}

	if len(s.buffer) == 0 {
		s.start = time.Now()
	}
	s.buffer = append(s.buffer, frame...)
	s.framesPushed++

	if FrameRMS(frame) < s.config.SilenceThreshold {
		s.silenceRun++
	} else {
		s.silenceRun = 0
		s.voiced = true
	}

	if s.suspended {
		return nil
	}

	return s.takeReady()
}

// Flush force-emits the buffered audio if it meets the minimum floor and
// carries any voice at all, and discards it otherwise. Called once on
// session close.
func (s *Segmenter) Flush() *Segment {
	if !s.voiced || s.BufferedDuration() < s.config.MinBuffer {
		s.reset()
		return nil
	}
	return s.emit()
}

// Suspend stops flush evaluation while a backend call is outstanding; frames
// pushed meanwhile keep accumulating.
func (s *Segmenter) Suspend() {
	s.suspended = true
}

// Resume re-enables flush evaluation and immediately emits a segment if a
// flush condition fired while suspended.
func (s *Segmenter) Resume() *Segment {
	s.suspended = false
	return s.takeReady()
}

// BufferedDuration returns the span of audio currently buffered
func (s *Segmenter) BufferedDuration() time.Duration {
	samples := len(s.buffer) / 2
	if s.config.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(s.config.SampleRate)
}

// SegmentsEmitted returns the number of segments produced so far
func (s *Segmenter) SegmentsEmitted() uint64 {
	return s.segmentsEmitted
}

// FramesPushed returns the number of frames consumed so far
func (s *Segmenter) FramesPushed() uint64 {
	return s.framesPushed
}

// takeReady emits the buffer as a segment if a flush condition holds:
// (a) the chunk duration boundary is reached, or (b) the silence counter
// indicates a sustained pause after at least the minimum floor of audio.
// A buffer without a single voiced frame is discarded instead of emitted,
// so pure silence never reaches the backend.
func (s *Segmenter) takeReady() *Segment {
	buffered := s.BufferedDuration()

	if buffered >= s.config.ChunkDuration ||
		(s.silenceRun >= s.config.SilenceFrames && buffered >= s.config.MinBuffer) {
		if !s.voiced {
			s.reset()
			return nil
		}
		return s.emit()
	}

	return nil
}

// emit hands the entire buffer over as one segment and resets accumulation
func (s *Segmenter) emit() *Segment {
	if len(s.buffer) == 0 {
		return nil
	}

	segment := &Segment{
		PCM:        s.buffer,
		SampleRate: s.config.SampleRate,
		StartTime:  s.start,
		Duration:   s.BufferedDuration(),
	}

	s.segmentsEmitted++
	s.buffer = make([]byte, 0, pcmBytes(s.config.SampleRate, s.config.ChunkDuration))
	s.silenceRun = 0
	s.voiced = false
	s.start = time.Time{}

	return segment
}

// reset discards the buffer without emitting
func (s *Segmenter) reset() {
	s.buffer = s.buffer[:0]
	s.silenceRun = 0
	s.voiced = false
	s.start = time.Time{}
}

// FrameRMS computes the root-mean-square amplitude of a PCM16 frame. A
// trailing odd byte is ignored.
func FrameRMS(frame []byte) float64 {
	samples := len(frame) / 2
	if samples == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i < samples; i++ {
		sample := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		sumSquares += float64(sample) * float64(sample)
	}

	return math.Sqrt(sumSquares / float64(samples))
}

// pcmBytes returns the PCM16 byte count for a span at the given sample rate
func pcmBytes(sampleRate int, d time.Duration) int {
	return 2 * int(time.Duration(sampleRate)*d/time.Second)
}
