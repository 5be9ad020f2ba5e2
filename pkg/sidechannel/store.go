package sidechannel

import (
	"context"
	"sort"

	"github.com/openfroyo/conform/pkg/engine"
	"github.com/openfroyo/conform/pkg/telemetry"
)

// Annotations reads and writes resource annotation strings.
// engine.ResourceAccessor satisfies it.
type Annotations interface {
	Annotation(ctx context.Context, resourcePath string) (string, error)
	SetAnnotation(ctx context.Context, resourcePath, value string) error
}

// cached is the per-resource state of one pipeline run.
type cached struct {
	record *Record

	// block is the span text as last read or written; Flush compares the
	// freshly encoded block against it.
	block   string
	hasSpan bool

	// corrupt blocks are never overwritten; the new block goes in front.
	corrupt bool
}

// Store caches parsed records per resource path for one pipeline run.
// It is not safe for concurrent use.
type Store struct {
	annotations Annotations
	cache       map[string]*cached
}

// NewStore creates a store over the given annotation accessor.
func NewStore(annotations Annotations) *Store {
	return &Store{
		annotations: annotations,
		cache:       make(map[string]*cached),
	}
}

// Load returns the record of the resource, parsing the annotation on first
// access. A corrupt block is logged once and yields an empty record. The
// returned record is a copy; mutate through Update.
func (s *Store) Load(ctx context.Context, resourcePath string) (*Record, error) {
	c, err := s.load(ctx, resourcePath)
	if err != nil {
		return nil, err
	}
	return c.record.clone(), nil
}

func (s *Store) load(ctx context.Context, resourcePath string) (*cached, error) {
	if c, ok := s.cache[resourcePath]; ok {
		return c, nil
	}

	annotation, err := s.annotations.Annotation(ctx, resourcePath)
	if err != nil {
		return nil, engine.NewPermanentError("failed to read annotation", err).
			WithResource(resourcePath).
			WithOperation("side_channel_load")
	}

	c := &cached{record: &Record{}}
	rec, span, found, perr := Parse(annotation)
	switch {
	case perr != nil:
		cerr := engine.NewCorruptSideChannelError("ignoring unreadable side channel record", perr).
			WithResource(resourcePath)
		telemetry.FromContext(ctx).WithResource(resourcePath).WithError(cerr).Warn("side channel record is corrupt, starting empty")
		telemetry.MetricsFromContext(ctx).RecordError(string(engine.ErrorClassCorruptSideChannel))
		c.corrupt = true
	case found:
		c.record = rec
		c.block = annotation[span.Start:span.End]
		c.hasSpan = true
	}

	s.cache[resourcePath] = c
	return c, nil
}

// Update upserts e into the cached record. Nothing is written until Flush.
func (s *Store) Update(ctx context.Context, resourcePath string, e Entry) error {
	c, err := s.load(ctx, resourcePath)
	if err != nil {
		return err
	}
	c.record.Upsert(e)
	return nil
}

// Remove deletes the entry for (profileID, taskName) from the cached record.
func (s *Store) Remove(ctx context.Context, resourcePath, profileID, taskName string) error {
	c, err := s.load(ctx, resourcePath)
	if err != nil {
		return err
	}
	c.record.Remove(profileID, taskName)
	return nil
}

// Flush writes the cached record back into the annotation when its encoded
// form differs from the span last read or written. It reports whether the
// annotation was written. The span is located again in the current
// annotation because other writers may have moved it since Load.
func (s *Store) Flush(ctx context.Context, resourcePath string) (bool, error) {
	c, ok := s.cache[resourcePath]
	if !ok {
		return false, nil
	}
	metrics := telemetry.MetricsFromContext(ctx)

	block, err := Encode(c.record)
	if err != nil {
		return false, engine.NewPermanentError("failed to encode side channel record", err).
			WithResource(resourcePath)
	}
	if (c.hasSpan && block == c.block) || (!c.hasSpan && len(c.record.Entries) == 0) {
		metrics.RecordSideChannelFlush("unchanged")
		return false, nil
	}

	current, err := s.annotations.Annotation(ctx, resourcePath)
	if err != nil {
		metrics.RecordSideChannelFlush("failed")
		return false, engine.NewWriteFailureError("failed to read annotation", err).
			WithResource(resourcePath).
			WithOperation("side_channel_flush")
	}

	span, _, found, lerr := Locate(current)
	updated := Splice(current, span, found && lerr == nil && !c.corrupt, block)

	if err := s.annotations.SetAnnotation(ctx, resourcePath, updated); err != nil {
		metrics.RecordSideChannelFlush("failed")
		return false, engine.NewWriteFailureError("failed to write annotation", err).
			WithResource(resourcePath).
			WithOperation("side_channel_flush")
	}

	c.block = block
	c.hasSpan = true
	c.corrupt = false
	metrics.RecordSideChannelFlush("written")
	telemetry.FromContext(ctx).WithResource(resourcePath).Debugf("side channel record written with %d entries", len(c.record.Entries))
	return true, nil
}

// FlushAll flushes every cached resource in path order and returns the
// first error.
func (s *Store) FlushAll(ctx context.Context) error {
	paths := make([]string, 0, len(s.cache))
	for p := range s.cache {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var first error
	for _, p := range paths {
		if _, err := s.Flush(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Forget drops the cached state of one resource.
func (s *Store) Forget(resourcePath string) {
	delete(s.cache, resourcePath)
}

// Reset drops every cached record; the next Load re-reads the annotation.
func (s *Store) Reset() {
	s.cache = make(map[string]*cached)
}
