package knowledge

import (
	"encoding/json"
	"sort"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// ErrMalformedChunk is reported for chunk payloads that are not UTF-8 JSON.
var ErrMalformedChunk = errors.New("malformed chunk payload")

// Record is one event of the upstream retrieve-and-generate stream. Upstream
// protocol versions disagree on the shape, so every field is optional and the
// record is classified by which fields are present.
type Record struct {
	Output          *OutputPart                `json:"output,omitempty"`
	RetrievalResult json.RawMessage            `json:"retrievalResult,omitempty"`
	Chunk           *ChunkPart                 `json:"chunk,omitempty"`
	Other           map[string]json.RawMessage `json:"-"`
}

// OutputPart carries generated text.
type OutputPart struct {
	Text *string `json:"text,omitempty"`
}

// ChunkPart carries a raw JSON document from older upstream protocol versions.
type ChunkPart struct {
	Bytes []byte `json:"bytes,omitempty"`
}

// Keys lists the top-level fields present on the record.
func (r Record) Keys() []string {
	keys := make([]string, 0, 3+len(r.Other))
	if r.Output != nil {
		keys = append(keys, "output")
	}
	if len(r.RetrievalResult) > 0 {
		keys = append(keys, "retrievalResult")
	}
	if r.Chunk != nil {
		keys = append(keys, "chunk")
	}
	for k := range r.Other {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TextRecord builds an output record.
func TextRecord(text string) Record {
	return Record{Output: &OutputPart{Text: &text}}
}

// ChunkRecord builds a legacy chunk record.
func ChunkRecord(payload []byte) Record {
	return Record{Chunk: &ChunkPart{Bytes: payload}}
}

// Kind is the variant a record was classified into.
type Kind int

const (
	KindUnknown Kind = iota
	KindTextDelta
	KindRetrievalMetadata
	KindLegacyChunk
)

func (k Kind) String() string {
	switch k {
	case KindTextDelta:
		return "text_delta"
	case KindRetrievalMetadata:
		return "retrieval_metadata"
	case KindLegacyChunk:
		return "legacy_chunk"
	default:
		return "unknown"
	}
}

// Event is a classified record.
type Event struct {
	Kind     Kind
	Text     string
	Metadata json.RawMessage
	Keys     []string
	Err      error
}

// Emits reports whether the event carries text that must be forwarded to the client.
func (e Event) Emits() bool {
	if e.Err != nil || e.Text == "" {
		return false
	}
	return e.Kind == KindTextDelta || e.Kind == KindLegacyChunk
}

type shape struct {
	kind    Kind
	matches func(Record) bool
	decode  func(Record) Event
}

// shapes are evaluated in order; the first match wins.
var shapes = []shape{
	{
		kind:    KindTextDelta,
		matches: func(r Record) bool { return r.Output != nil && r.Output.Text != nil },
		decode:  func(r Record) Event { return Event{Kind: KindTextDelta, Text: *r.Output.Text} },
	},
	{
		kind:    KindRetrievalMetadata,
		matches: func(r Record) bool { return len(r.RetrievalResult) > 0 },
		decode:  func(r Record) Event { return Event{Kind: KindRetrievalMetadata, Metadata: r.RetrievalResult} },
	},
	{
		kind:    KindLegacyChunk,
		matches: func(r Record) bool { return r.Chunk != nil && len(r.Chunk.Bytes) > 0 },
		decode:  decodeChunk,
	},
}

// Classify maps a record onto its variant.
func Classify(r Record) Event {
	for _, s := range shapes {
		if s.matches(r) {
			return s.decode(r)
		}
	}
	return Event{Kind: KindUnknown, Keys: r.Keys()}
}

func decodeChunk(r Record) Event {
	payload := r.Chunk.Bytes
	if !utf8.Valid(payload) || !gjson.ValidBytes(payload) {
		return Event{Kind: KindLegacyChunk, Err: errors.Wrapf(ErrMalformedChunk, "%d bytes", len(payload))}
	}

	for _, path := range []string{"delta.text", "text"} {
		if v := gjson.GetBytes(payload, path); v.Type == gjson.String && v.Str != "" {
			return Event{Kind: KindLegacyChunk, Text: v.Str}
		}
	}
	return Event{Kind: KindLegacyChunk}
}
