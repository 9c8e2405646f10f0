package protocol

import (
	"fmt"
	"strings"
)

// HeaderSize is the fixed size of the metadata header that prefixes every
// inbound binary audio message: "PARTICIPANT_ID|LANGUAGE" padded to 60 bytes
// with NUL or space characters.
const HeaderSize = 60

// Frame represents one parsed inbound audio message
type Frame struct {
	ParticipantID string
	Language      string
	Audio         []byte // PCM16 little-endian mono
}

// ErrShortMessage indicates a binary message smaller than the fixed header
var ErrShortMessage = fmt.Errorf("message shorter than %d-byte header", HeaderSize)

// ErrMalformedHeader indicates a header without the participant|language form
var ErrMalformedHeader = fmt.Errorf("header missing participant|language separator")

// ParseFrame parses one binary message into its header fields and audio
// payload. The audio slice references the input buffer and is not copied.
func ParseFrame(message []byte) (*Frame, error) {
	if len(message) < HeaderSize {
		return nil, ErrShortMessage
	}

	header := strings.TrimRight(string(message[:HeaderSize]), "\x00 ")

	participant, language, found := strings.Cut(header, "|")
	if !found {
		return nil, ErrMalformedHeader
	}

	return &Frame{
		ParticipantID: strings.TrimSpace(participant),
		Language:      strings.TrimSpace(language),
		Audio:         message[HeaderSize:],
	}, nil
}

// EncodeFrame builds a binary message from header fields and audio payload.
// Used by clients and tests; the bridge itself only parses.
func EncodeFrame(participantID, language string, audio []byte) ([]byte, error) {
	header := participantID + "|" + language
	if len(header) > HeaderSize {
		return nil, fmt.Errorf("header %q exceeds %d bytes", header, HeaderSize)
	}

	message := make([]byte, HeaderSize+len(audio))
	copy(message, header)
	copy(message[HeaderSize:], audio)
	return message, nil
}

// TranscriptMessage is the JSON message delivered to the client for a
// transcribed segment
type TranscriptMessage struct {
	Type          string  `json:"type"`
	ParticipantID string  `json:"participant_id"`
	Text          string  `json:"text"`
	Language      string  `json:"language,omitempty"`
	Variance      float64 `json:"variance"`
}

// NewFinalTranscript builds a final transcript message for delivery
func NewFinalTranscript(participantID, text, language string) TranscriptMessage {
	return TranscriptMessage{
		Type:          "final",
		ParticipantID: participantID,
		Text:          text,
		Language:      language,
		Variance:      0.0,
	}
}
