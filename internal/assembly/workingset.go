package assembly

import (
	"errors"
	"fmt"
)

var (
	// ErrNotDocument is returned when a document operation targets a separator.
	ErrNotDocument = errors.New("entry is not a document")
	// ErrEmptyPart is returned by SplitAt when either half would have no pages.
	ErrEmptyPart = errors.New("split would produce an empty part")
	// ErrInvariant reports a broken separator or page invariant.
	ErrInvariant = errors.New("working set invariant violated")
)

// WorkingSet is the ordered sequence of entries of one assembly session.
// It is not safe for concurrent mutation; a session owns exactly one.
// Index bounds are the caller's responsibility.
type WorkingSet struct {
	entries []Entry
}

// New returns an empty working set.
func New(entries ...Entry) *WorkingSet {
	ws := &WorkingSet{}
	for _, e := range entries {
		ws.entries = append(ws.entries, e.clone())
	}
	return ws
}

func (ws *WorkingSet) Len() int      { return len(ws.entries) }
func (ws *WorkingSet) IsEmpty() bool { return len(ws.entries) == 0 }

// Entries returns a deep copy of the current sequence.
func (ws *WorkingSet) Entries() []Entry {
	out := make([]Entry, len(ws.entries))
	for i, e := range ws.entries {
		out[i] = e.clone()
	}
	return out
}

// At returns a copy of the entry at index i.
func (ws *WorkingSet) At(i int) Entry { return ws.entries[i].clone() }

// Clear empties the set (cancel or successful commit).
func (ws *WorkingSet) Clear() { ws.entries = nil }

// Append adds ref at the end.
func (ws *WorkingSet) Append(ref DocumentRef) {
	ws.Insert(ref, len(ws.entries))
}

// Insert places ref at index at, 0 <= at <= Len().
func (ws *WorkingSet) Insert(ref DocumentRef, at int) {
	ref = ref.Clone()
	ref.Pages = normalizePages(ref.Pages)
	ws.insertEntries(at, Entry{Ref: &ref})
}

// AddMany appends refs in their given order.
func (ws *WorkingSet) AddMany(refs []DocumentRef) {
	for _, r := range refs {
		ws.Append(r)
	}
}

// Remove deletes the entry at index at. A separator left at either end of
// the sequence, or next to another separator, is removed as well.
func (ws *WorkingSet) Remove(at int) {
	ws.entries = append(ws.entries[:at], ws.entries[at+1:]...)
	if at > 0 && at < len(ws.entries) && ws.entries[at-1].IsSeparator() && ws.entries[at].IsSeparator() {
		ws.entries = append(ws.entries[:at], ws.entries[at+1:]...)
	}
	ws.trimEdges()
}

// Duplicate inserts an independent copy of the document at index at right after it.
func (ws *WorkingSet) Duplicate(at int) error {
	e := ws.entries[at]
	if e.IsSeparator() {
		return fmt.Errorf("duplicate %d: %w", at, ErrNotDocument)
	}
	ws.insertEntries(at+1, e.clone())
	return nil
}

// Move relocates the entry at from so that it ends up at index to. Other
// entries keep their relative order. A move that strands a separator at an
// edge or next to another separator drops that separator.
func (ws *WorkingSet) Move(from, to int) {
	if from == to {
		return
	}
	e := ws.entries[from]
	ws.entries = append(ws.entries[:from], ws.entries[from+1:]...)
	ws.insertEntries(to, e)
	ws.collapseSeparators()
}

// SetPages replaces the page restriction of the document at index at. An
// empty list means all pages.
func (ws *WorkingSet) SetPages(at int, pages []int) error {
	e := ws.entries[at]
	if e.IsSeparator() {
		return fmt.Errorf("set pages %d: %w", at, ErrNotDocument)
	}
	e.Ref.Pages = normalizePages(pages)
	return nil
}

// SplitAt turns the document at index at into two parts joined by a
// separator. The second part gets exactly secondPart. The first part gets
// every page below min(secondPart), limited to allowed when a restriction is
// given; with allowed == nil the document's current restriction applies, and
// an unrestricted document contributes 1..min-1.
func (ws *WorkingSet) SplitAt(at int, secondPart, allowed []int) error {
	e := ws.entries[at]
	if e.IsSeparator() {
		return fmt.Errorf("split %d: %w", at, ErrNotDocument)
	}
	second := sortedPages(secondPart)
	if len(second) == 0 {
		return fmt.Errorf("split %d: second part: %w", at, ErrEmptyPart)
	}
	if allowed == nil {
		allowed = e.Ref.Pages
	}

	start := second[0]
	var first []int
	if allowed != nil {
		for _, p := range sortedPages(allowed) {
			if p < start {
				first = append(first, p)
			}
		}
	} else {
		for p := 1; p < start; p++ {
			first = append(first, p)
		}
	}
	if len(first) == 0 {
		return fmt.Errorf("split %d: first part: %w", at, ErrEmptyPart)
	}

	id := e.Ref.DocumentID
	ws.entries[at] = Entry{Ref: &DocumentRef{DocumentID: id, Pages: first}}
	ws.insertEntries(at+1, Separator(), Entry{Ref: &DocumentRef{DocumentID: id, Pages: second}})
	return nil
}

// Validate checks the separator and page invariants.
func (ws *WorkingSet) Validate() error {
	n := len(ws.entries)
	for i, e := range ws.entries {
		if e.IsSeparator() {
			switch {
			case i == 0:
				return fmt.Errorf("%w: separator at start", ErrInvariant)
			case i == n-1:
				return fmt.Errorf("%w: separator at end", ErrInvariant)
			case ws.entries[i-1].IsSeparator():
				return fmt.Errorf("%w: adjacent separators at %d", ErrInvariant, i)
			}
			continue
		}
		if e.Ref.Pages == nil {
			continue
		}
		if len(e.Ref.Pages) == 0 {
			return fmt.Errorf("%w: empty page restriction at %d", ErrInvariant, i)
		}
		seen := make(map[int]struct{}, len(e.Ref.Pages))
		for _, p := range e.Ref.Pages {
			if p < 1 {
				return fmt.Errorf("%w: page %d at %d", ErrInvariant, p, i)
			}
			if _, dup := seen[p]; dup {
				return fmt.Errorf("%w: duplicate page %d at %d", ErrInvariant, p, i)
			}
			seen[p] = struct{}{}
		}
	}
	return nil
}

func (ws *WorkingSet) insertEntries(at int, es ...Entry) {
	out := make([]Entry, 0, len(ws.entries)+len(es))
	out = append(out, ws.entries[:at]...)
	out = append(out, es...)
	out = append(out, ws.entries[at:]...)
	ws.entries = out
}

// trimEdges drops a separator sitting first or last. Separators are never
// adjacent, so one pass per edge is enough.
func (ws *WorkingSet) trimEdges() {
	if n := len(ws.entries); n > 0 && ws.entries[0].IsSeparator() {
		ws.entries = ws.entries[1:]
	}
	if n := len(ws.entries); n > 0 && ws.entries[n-1].IsSeparator() {
		ws.entries = ws.entries[:n-1]
	}
}

func (ws *WorkingSet) collapseSeparators() {
	out := ws.entries[:0]
	for _, e := range ws.entries {
		if e.IsSeparator() && (len(out) == 0 || out[len(out)-1].IsSeparator()) {
			continue
		}
		out = append(out, e)
	}
	ws.entries = out
	if n := len(ws.entries); n > 0 && ws.entries[n-1].IsSeparator() {
		ws.entries = ws.entries[:n-1]
	}
}
