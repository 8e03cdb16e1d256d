// Package session holds the state shared by every worker of a run: the
// speaker name registry, the list of batches that fell back to source
// text, and the token tally. All of it sits behind one mutex which is
// never held while a provider call is in flight.
package session

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/minios-linux/mvtl/translate"
)

// Mismatch records a batch whose translation kept the source strings.
type Mismatch struct {
	File  string
	Batch int
}

// Name is one speaker registry entry.
type Name struct {
	Source     string
	Translated string
}

// Session is safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	speakers   map[string]string
	order      []string
	mismatches []Mismatch
	seen       map[Mismatch]struct{}
	usage      translate.Usage

	group singleflight.Group
}

// New returns a Session whose registry starts with seed.
func New(seed map[string]string) *Session {
	s := &Session{
		speakers: make(map[string]string, len(seed)),
		seen:     make(map[Mismatch]struct{}),
	}
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" {
			continue
		}
		s.speakers[k] = seed[k]
		s.order = append(s.order, k)
	}
	return s
}

// ---------------------------------------------------------------------------
// Speaker registry
// ---------------------------------------------------------------------------

// TranslateFunc translates one speaker name.
type TranslateFunc func(ctx context.Context, name string) (string, error)

// Speaker returns the translation of a speaker name, calling fn only when
// the name has never been translated. Concurrent first lookups of the same
// name share one call. Failed calls are not cached. An empty name maps to
// an empty name without calling fn.
func (s *Session) Speaker(ctx context.Context, name string, fn TranslateFunc) (string, error) {
	if name == "" {
		return "", nil
	}
	if v, ok := s.LookupSpeaker(name); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		if v, ok := s.LookupSpeaker(name); ok {
			return v, nil
		}
		out, err := fn(ctx, name)
		if err != nil {
			return "", err
		}
		return s.storeSpeaker(name, out), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// LookupSpeaker returns a cached translation.
func (s *Session) LookupSpeaker(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.speakers[name]
	return v, ok
}

// storeSpeaker inserts name unless it is already present and returns the
// value that ends up in the registry.
func (s *Session) storeSpeaker(name, translated string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.speakers[name]; ok {
		return existing
	}
	s.speakers[name] = translated
	s.order = append(s.order, name)
	return translated
}

// Names returns the registry in insertion order.
func (s *Session) Names() []Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Name, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, Name{Source: k, Translated: s.speakers[k]})
	}
	return out
}

// ---------------------------------------------------------------------------
// Mismatches
// ---------------------------------------------------------------------------

// AddMismatch records a fallen-back batch. Repeated records are ignored.
func (s *Session) AddMismatch(file string, batch int) {
	m := Mismatch{File: file, Batch: batch}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[m]; ok {
		return
	}
	s.seen[m] = struct{}{}
	s.mismatches = append(s.mismatches, m)
}

// HasMismatch reports whether any batch of file fell back.
func (s *Session) HasMismatch(file string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mismatches {
		if m.File == file {
			return true
		}
	}
	return false
}

// Mismatches returns every recorded mismatch in recording order.
func (s *Session) Mismatches() []Mismatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mismatch(nil), s.mismatches...)
}

// ---------------------------------------------------------------------------
// Token tally
// ---------------------------------------------------------------------------

// AddUsage adds u to the running total.
func (s *Session) AddUsage(u translate.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = s.usage.Add(u)
}

// Usage returns the running total.
func (s *Session) Usage() translate.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
