// Command whisper-stub is a mock whisper.cpp inference server for local
// development and integration testing of the bridge. It accepts the same
// multipart /inference request the real backend does and returns a canned
// transcript.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

var (
	port     = flag.Int("port", 8080, "Listen port")
	text     = flag.String("text", "This is a mock transcription.", "Transcript to return")
	language = flag.String("language", "en", "Detected language to return")
	delay    = flag.Duration("delay", 0, "Artificial inference latency")
)

func inferenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	lang := r.FormValue("language")
	if lang == "" {
		lang = *language // auto-detect request
	}

	log.Printf("inference request: file=%s size=%d language=%q temperature=%s",
		header.Filename, len(audioData), r.FormValue("language"), r.FormValue("temperature"))

	if *delay > 0 {
		time.Sleep(*delay)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inferenceResponse{
		Text:     *text,
		Language: lang,
	})
}

func main() {
	flag.Parse()

	http.HandleFunc("/inference", inferenceHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock whisper server listening on %s (text=%q, delay=%v)", addr, *text, *delay)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
