// Package sidechannel embeds a small versioned record inside a resource's
// free-form annotation string. The annotation is shared with other tools,
// so only the span between the marker and its balanced closing brace is
// ever rewritten.
package sidechannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Marker is the literal token that introduces the embedded record.
const Marker = `"ImportDefinitionFiles":`

// Entry records that a task of a profile processed the resource at a version.
type Entry struct {
	ProfileID    string `json:"profileId"`
	TaskName     string `json:"taskName"`
	AssemblyName string `json:"assemblyName"`
	TypeName     string `json:"typeName"`
	Version      int    `json:"version"`
}

// Record is the embedded record. Entries are unique by (ProfileID, TaskName).
type Record struct {
	Entries []Entry `json:"entries"`
}

// Upsert replaces the entry with the same key in place, or appends e.
func (r *Record) Upsert(e Entry) {
	for i := range r.Entries {
		if r.Entries[i].ProfileID == e.ProfileID && r.Entries[i].TaskName == e.TaskName {
			r.Entries[i] = e
			return
		}
	}
	r.Entries = append(r.Entries, e)
}

// Find returns the entry for (profileID, taskName).
func (r *Record) Find(profileID, taskName string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.ProfileID == profileID && e.TaskName == taskName {
			return e, true
		}
	}
	return Entry{}, false
}

// Remove deletes the entry for (profileID, taskName) and reports whether
// one existed.
func (r *Record) Remove(profileID, taskName string) bool {
	for i, e := range r.Entries {
		if e.ProfileID == profileID && e.TaskName == taskName {
			r.Entries = append(r.Entries[:i], r.Entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Record) clone() *Record {
	out := &Record{Entries: make([]Entry, len(r.Entries))}
	copy(out.Entries, r.Entries)
	return out
}

// Span is the half-open byte range [Start, End) of an embedded block,
// from the first byte of the marker through its closing brace.
type Span struct {
	Start int
	End   int
}

// ErrUnterminated is returned when the record's braces never balance.
var ErrUnterminated = errors.New("side channel record is not terminated")

// Locate finds the embedded block in annotation. It reports found=false
// when the marker is absent; an error means the marker is present but the
// block is malformed.
func Locate(annotation string) (span Span, inner string, found bool, err error) {
	start := strings.Index(annotation, Marker)
	if start < 0 {
		return Span{}, "", false, nil
	}

	i := start + len(Marker)
	for i < len(annotation) && isSpace(annotation[i]) {
		i++
	}
	if i >= len(annotation) || annotation[i] != '{' {
		return Span{}, "", true, fmt.Errorf("side channel marker at %d is not followed by '{'", start)
	}

	// Braces inside JSON string literals do not count, so task names and
	// profile ids may contain them.
	open := i + 1
	depth := 0
	inString, escaped := false, false
	for j := open; j < len(annotation); j++ {
		c := annotation[j]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return Span{Start: start, End: j + 1}, annotation[open:j], true, nil
			}
			depth--
		}
	}
	return Span{}, "", true, ErrUnterminated
}

// Parse decodes the record embedded in annotation. The block body is
// either a JSON object or the members of one.
func Parse(annotation string) (*Record, Span, bool, error) {
	span, inner, found, err := Locate(annotation)
	if err != nil || !found {
		return &Record{}, Span{}, found, err
	}

	body := strings.TrimSpace(inner)
	if !strings.HasPrefix(body, "{") {
		body = "{" + body + "}"
	}

	rec := &Record{}
	if err := json.Unmarshal([]byte(body), rec); err != nil {
		return &Record{}, Span{}, true, fmt.Errorf("failed to decode side channel record: %w", err)
	}
	return rec, span, true, nil
}

// Encode renders the block written into the annotation:
// Marker + " { " + compact JSON + " }".
func Encode(r *Record) (string, error) {
	out := r
	if out.Entries == nil {
		out = &Record{Entries: []Entry{}}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode side channel record: %w", err)
	}
	return Marker + " { " + string(data) + " }", nil
}

// Splice replaces span in annotation with block, or inserts block at the
// start when there is no span. Bytes outside the span are preserved.
func Splice(annotation string, span Span, hasSpan bool, block string) string {
	if !hasSpan {
		return block + annotation
	}
	return annotation[:span.Start] + block + annotation[span.End:]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
