// Package assembly holds the ordered working set a user builds before a
// split/merge run: document references, optionally restricted to pages, and
// separators that mark where one output document ends and the next begins.
package assembly

import "sort"

// DocumentRef points at one source document. Pages holds 1-based page numbers;
// nil means every page of the document.
type DocumentRef struct {
	DocumentID string
	Pages      []int
}

// Clone returns a copy that shares no page storage with r.
func (r DocumentRef) Clone() DocumentRef {
	out := DocumentRef{DocumentID: r.DocumentID}
	if r.Pages != nil {
		out.Pages = append([]int(nil), r.Pages...)
	}
	return out
}

// AllPages reports whether the reference is unrestricted.
func (r DocumentRef) AllPages() bool { return r.Pages == nil }

// Entry is either a document reference or a separator (Ref == nil).
type Entry struct {
	Ref *DocumentRef
}

// Doc builds a document entry. Without pages the entry covers the whole document.
func Doc(documentID string, pages ...int) Entry {
	ref := DocumentRef{DocumentID: documentID}
	if len(pages) > 0 {
		ref.Pages = normalizePages(pages)
	}
	return Entry{Ref: &ref}
}

// Separator builds a separator entry.
func Separator() Entry { return Entry{} }

// IsSeparator reports whether e marks a group boundary.
func (e Entry) IsSeparator() bool { return e.Ref == nil }

func (e Entry) clone() Entry {
	if e.Ref == nil {
		return Entry{}
	}
	ref := e.Ref.Clone()
	return Entry{Ref: &ref}
}

// normalizePages drops duplicates while keeping first-seen order. An empty
// input yields nil: a restriction to zero pages does not exist.
func normalizePages(pages []int) []int {
	if len(pages) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func sortedPages(pages []int) []int {
	out := normalizePages(pages)
	sort.Ints(out)
	return out
}
