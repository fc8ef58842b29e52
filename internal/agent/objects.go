package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/quill/pkg/models"
)

// ObjectRequest asks the model for a JSON array of objects matching Schema.
type ObjectRequest struct {
	Provider string
	Model    string
	System   string
	Prompt   string
	Schema   json.RawMessage
	// Limit caps the number of accepted elements. Zero means unlimited.
	Limit int
}

// StreamObjects runs a single-step generation whose text is a JSON array and
// calls fn with each element as soon as it is complete. Elements that do not
// match the schema are skipped. Generation stops after Limit accepted
// elements; fn returning an error aborts it. A truncated array ends the
// stream without error.
func (g *Gateway) StreamObjects(ctx context.Context, req ObjectRequest, fn func(json.RawMessage) error) (int, error) {
	schema, err := jsonschema.CompileString("element.schema.json", string(req.Schema))
	if err != nil {
		return 0, fmt.Errorf("compile element schema: %w", err)
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	system := req.System + "\n\nRespond only with a JSON array. Each element must match this JSON Schema:\n" + string(req.Schema)
	s := g.Generate(genCtx, GenerateRequest{
		Provider: req.Provider,
		Model:    req.Model,
		System:   system,
		Messages: []models.Message{{Role: models.RoleUser, Parts: []models.Part{models.TextPart(req.Prompt)}}},
		MaxSteps: 1,
	})

	pr, pw := io.Pipe()
	fed := make(chan struct{})
	// upstreamErr is written by the feeder and read after fed closes.
	var upstreamErr error
	go func() {
		defer close(fed)
		defer s.Close()
		for {
			ev, ok := s.Next(genCtx)
			if !ok {
				_ = pw.Close()
				return
			}
			switch ev.Type {
			case EventTextDelta:
				if _, err := io.WriteString(pw, ev.Text); err != nil {
					return
				}
			case EventError:
				if genCtx.Err() == nil {
					upstreamErr = ev.Err
				}
				_ = pw.CloseWithError(ev.Err)
				return
			}
		}
	}()

	accepted, decodeErr := decodeArray(pr, schema, req.Limit, fn)
	cancel()
	_ = pr.CloseWithError(errStopObjects)
	<-fed

	switch {
	case upstreamErr != nil:
		return accepted, upstreamErr
	case decodeErr != nil && !errors.Is(decodeErr, errStopObjects):
		return accepted, decodeErr
	case ctx.Err() != nil:
		return accepted, ctx.Err()
	}
	return accepted, nil
}

var errStopObjects = errors.New("object stream stopped")

func decodeArray(r io.Reader, schema *jsonschema.Schema, limit int, fn func(json.RawMessage) error) (int, error) {
	br := bufio.NewReader(r)
	// Models sometimes preface the array with prose; skip to the first '['.
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil
			}
			return 0, err
		}
		if b == '[' {
			_ = br.UnreadByte()
			break
		}
	}

	dec := json.NewDecoder(br)
	if _, err := dec.Token(); err != nil {
		return 0, fmt.Errorf("decode array start: %w", err)
	}

	accepted := 0
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			// Output cut short (max tokens) ends the array after the last
			// complete element.
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return accepted, nil
			}
			return accepted, fmt.Errorf("decode array element: %w", err)
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			continue
		}
		if err := schema.Validate(decoded); err != nil {
			continue
		}
		if err := fn(raw); err != nil {
			return accepted, err
		}
		accepted++
		if limit > 0 && accepted >= limit {
			return accepted, nil
		}
	}
	return accepted, nil
}
