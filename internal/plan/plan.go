// Package plan translates a working set into the execution request a
// split/merge backend understands, and back.
package plan

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/splitmerge/internal/assembly"
)

// Part is one source document inside an output group. An empty Pages means
// every page of the document.
type Part struct {
	Document string `json:"document"`
	Pages    string `json:"pages,omitempty"`
}

// Group lists the parts that are concatenated into one output document.
type Group []Part

// ExecutionPlan is the ordered list of output documents to produce.
type ExecutionPlan []Group

// Metadata selects how output documents get their metadata.
type Metadata string

const (
	// MetadataRedo lets the consumer derive metadata afresh.
	MetadataRedo Metadata = "redo"
	// MetadataCopyFirst copies metadata from the first source of each group.
	MetadataCopyFirst Metadata = "copy_first"
)

var (
	ErrEmptyPlan       = errors.New("plan has no output documents")
	ErrEmptyGroup      = errors.New("output document has no parts")
	ErrInvalidMetadata = errors.New("invalid metadata policy")
	ErrInvalidPart     = errors.New("invalid part")
)

// Request is the payload sent to the execution backend.
type Request struct {
	Plan         ExecutionPlan `json:"split_merge_plan"`
	DeleteSource bool          `json:"delete_source"`
	Metadata     Metadata      `json:"metadata"`
	Preview      bool          `json:"preview"`
}

// Validate checks the request shape. Page specs are checked strictly.
func (r Request) Validate() error {
	switch r.Metadata {
	case MetadataRedo, MetadataCopyFirst:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMetadata, r.Metadata)
	}
	if len(r.Plan) == 0 {
		return ErrEmptyPlan
	}
	for gi, g := range r.Plan {
		if len(g) == 0 {
			return fmt.Errorf("group %d: %w", gi, ErrEmptyGroup)
		}
		for pi, p := range g {
			if p.Document == "" {
				return fmt.Errorf("group %d part %d: %w: missing document", gi, pi, ErrInvalidPart)
			}
			if _, err := ParsePagesStrict(p.Pages); err != nil {
				return fmt.Errorf("group %d part %d: %w", gi, pi, err)
			}
		}
	}
	return nil
}

// Parts returns the number of parts across all groups.
func (p ExecutionPlan) Parts() int {
	n := 0
	for _, g := range p {
		n += len(g)
	}
	return n
}

// Build walks the working set and starts a new group before the first entry
// and after every separator. An empty working set has no plan.
func Build(ws *assembly.WorkingSet) ExecutionPlan {
	if ws.IsEmpty() {
		return nil
	}
	if err := ws.Validate(); err != nil {
		log.Error().Err(err).Msg("building plan from inconsistent working set")
	}
	out := ExecutionPlan{Group{}}
	for _, e := range ws.Entries() {
		if e.IsSeparator() {
			out = append(out, Group{})
			continue
		}
		last := len(out) - 1
		out[last] = append(out[last], Part{
			Document: e.Ref.DocumentID,
			Pages:    FormatPages(e.Ref.Pages),
		})
	}
	return out
}

// Restore rebuilds a working set from a plan. Empty groups are skipped so
// that the result always satisfies the separator invariant.
func Restore(p ExecutionPlan) *assembly.WorkingSet {
	var entries []assembly.Entry
	for _, g := range p {
		if len(g) == 0 {
			continue
		}
		if len(entries) > 0 {
			entries = append(entries, assembly.Separator())
		}
		for _, part := range g {
			entries = append(entries, assembly.Doc(part.Document, ParsePages(part.Pages)...))
		}
	}
	return assembly.New(entries...)
}

// NewRequest builds a request for ws.
func NewRequest(ws *assembly.WorkingSet, md Metadata, deleteSource, preview bool) Request {
	if md == "" {
		md = MetadataRedo
	}
	return Request{
		Plan:         Build(ws),
		DeleteSource: deleteSource,
		Metadata:     md,
		Preview:      preview,
	}
}
