package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ReadFrames decodes an NDJSON body until EOF.
func ReadFrames(r io.Reader) ([]Frame, error) {
	dec := json.NewDecoder(r)
	var frames []Frame
	for {
		var f Frame
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("stream: decode frame %d: %w", len(frames), err)
		}
		frames = append(frames, f)
	}
}

// ByStream groups frames by sub-stream, preserving order.
func ByStream(frames []Frame) map[string][]Frame {
	out := make(map[string][]Frame)
	for _, f := range frames {
		out[f.Stream] = append(out[f.Stream], f)
	}
	return out
}
