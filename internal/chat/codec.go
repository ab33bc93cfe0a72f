package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/samber/lo"
)

// BatchDelimiter separates envelopes that share one transport write.
const BatchDelimiter = `__+\|SPLIT|/+__`

// TimestampLayout is the wire format of Envelope.Datetime.
const TimestampLayout = "2006-01-02 15:04:05"

var batchDelimiter = []byte(BatchDelimiter)

// Envelope is one chat or control message on the wire.
type Envelope struct {
	Author     string   `json:"author"`
	Recipients []string `json:"recipient"`
	Text       string   `json:"text"`
	Datetime   string   `json:"datetime"`
}

// Frame is a decoded envelope together with the exact bytes it was decoded from.
type Frame struct {
	Envelope Envelope
	Raw      []byte
}

// Clock is the only source of wall time for envelopes built by the server.
type Clock func() time.Time

// FormatTimestamp renders t in the wire layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// NewEnvelope builds an envelope, dropping the author from its own recipient list.
func NewEnvelope(text, author string, recipients []string, datetime string) Envelope {
	return Envelope{
		Author:     author,
		Recipients: lo.Without(recipients, author),
		Text:       text,
		Datetime:   datetime,
	}
}

// Encode marshals a single envelope with no trailing delimiter.
func Encode(text, author string, recipients []string, datetime string) ([]byte, error) {
	b, err := json.Marshal(NewEnvelope(text, author, recipients, datetime))
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// EncodeBatchItem encodes an envelope followed by the batch delimiter.
func EncodeBatchItem(text, author string, recipients []string, datetime string) ([]byte, error) {
	b, err := Encode(text, author, recipients, datetime)
	if err != nil {
		return nil, err
	}
	return append(b, batchDelimiter...), nil
}

// DecodeBatch lazily decodes every envelope contained in one read buffer.
// A segment that fails to decode yields an error wrapping ErrMalformedEnvelope
// and decoding resumes with the next segment.
func DecodeBatch(raw []byte) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for i, segment := range bytes.Split(raw, batchDelimiter) {
			segment = bytes.TrimSpace(segment)
			if len(segment) == 0 {
				continue
			}
			if !decodeSegment(i, segment, yield) {
				return
			}
		}
	}
}

// decodeSegment handles segments holding several objects back to back, which
// happens when a peer's writes are coalesced without a delimiter.
func decodeSegment(index int, segment []byte, yield func(Frame, error) bool) bool {
	dec := json.NewDecoder(bytes.NewReader(segment))
	var start int64
	for {
		rest := bytes.TrimSpace(segment[start:])
		if len(rest) == 0 {
			return true
		}
		if rest[0] != '{' {
			return yield(Frame{}, fmt.Errorf("%w: segment %d: not a json object", ErrMalformedEnvelope, index))
		}

		var env Envelope
		if err := dec.Decode(&env); err != nil {
			return yield(Frame{}, fmt.Errorf("%w: segment %d: %v", ErrMalformedEnvelope, index, err))
		}
		end := dec.InputOffset()
		frame := Frame{
			Envelope: env,
			Raw:      bytes.Clone(bytes.TrimSpace(segment[start:end])),
		}
		start = end
		if !yield(frame, nil) {
			return false
		}
	}
}
