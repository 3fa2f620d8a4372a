// Package executor assembles output PDFs from an execution plan.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/local/splitmerge/internal/filetype"
	"github.com/local/splitmerge/internal/metrics"
	"github.com/local/splitmerge/internal/plan"
	"github.com/local/splitmerge/internal/queue"
	"github.com/local/splitmerge/internal/storage"
	"github.com/local/splitmerge/internal/store"
)

// DocumentSource resolves source documents.
type DocumentSource interface {
	Fetch(ctx context.Context, id string) (*storage.Document, error)
}

// ResultStore keeps generated outputs.
type ResultStore interface {
	Put(ctx context.Context, r store.Result, data []byte, ttl time.Duration) (store.Result, error)
	Delete(ctx context.Context, id string) error
}

// CommitQueue accepts committed plans for publishing.
type CommitQueue interface {
	EnqueueCommit(ctx context.Context, job queue.CommitJob) error
}

// JobStatus records the initial state of a commit job and makes it
// reachable through the job's result ids.
type JobStatus interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Link(ctx context.Context, jobID string, resultIDs []string) error
}

type Options struct {
	PreviewTTL time.Duration
}

// Executor runs split/merge requests. Previews are kept in the result store
// for PreviewTTL; commits are handed to the commit queue.
type Executor struct {
	src      DocumentSource
	results  ResultStore
	queue    CommitQueue
	status   JobStatus
	detector *filetype.Detector
	opts     Options
}

func New(src DocumentSource, results ResultStore, q CommitQueue, status JobStatus, opts Options) *Executor {
	if opts.PreviewTTL <= 0 {
		opts.PreviewTTL = 30 * time.Minute
	}
	return &Executor{src: src, results: results, queue: q, status: status, detector: filetype.New(), opts: opts}
}

type source struct {
	doc   *storage.Document
	pages int
}

// run is the state of one execution. Every document is fetched and opened
// at most once.
type run struct {
	e     *Executor
	cache map[string]*source
}

func newConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Execute validates req and builds one output per group. It returns one
// result id per group, in group order. For a commit the ids also identify
// the queued job in the status store.
func (e *Executor) Execute(ctx context.Context, req plan.Request) ([]string, error) {
	start := time.Now()
	ids, err := e.execute(ctx, req)
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ObserveExecution(req.Preview, result, time.Since(start))
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Bool("preview", req.Preview).
		Int("groups", len(req.Plan)).
		Int("parts", req.Plan.Parts()).
		Str("metadata", string(req.Metadata)).
		Dur("duration", time.Since(start)).
		Msg("split/merge execution")
	return ids, err
}

func (e *Executor) execute(ctx context.Context, req plan.Request) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r := &run{e: e, cache: map[string]*source{}}

	ttl := e.opts.PreviewTTL
	if !req.Preview {
		ttl = 0
	}
	var written []store.Result
	cleanup := func() {
		for _, w := range written {
			if err := e.results.Delete(context.WithoutCancel(ctx), w.ID); err != nil {
				log.Warn().Err(err).Str("result", w.ID).Msg("failed to remove partial result")
			}
		}
	}

	for gi, g := range req.Plan {
		data, pages, err := r.assemble(ctx, gi, g)
		if err != nil {
			cleanup()
			return nil, err
		}
		first := r.cache[g[0].Document].doc
		res := store.Result{
			ID:       uuid.NewString(),
			Title:    outputTitle(first),
			Group:    gi,
			Metadata: outputMetadata(first, req.Metadata),
		}
		data = withTitle(data, res.Title)
		stored, err := e.results.Put(ctx, res, data, ttl)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("store output %d: %w", gi, err)
		}
		written = append(written, stored)
		metrics.AddOutputPages(pages)
	}

	ids := make([]string, len(written))
	for i, w := range written {
		ids[i] = w.ID
	}
	if req.Preview {
		return ids, nil
	}

	job := queue.CommitJob{
		JobID:        uuid.NewString(),
		DeleteSource: req.DeleteSource,
		CreatedAt:    time.Now().UTC(),
	}
	for _, w := range written {
		job.Outputs = append(job.Outputs, queue.Output{ResultID: w.ID, Title: w.Title, Metadata: w.Metadata})
	}
	if req.DeleteSource {
		job.SourceIDs = sourceIDs(req.Plan)
	}
	if e.status != nil {
		now := time.Now().UTC()
		if err := e.status.Set(ctx, job.JobID, store.Status{Status: store.StateQueued, Start: &now}); err != nil {
			log.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to record job status")
		}
		if err := e.status.Link(ctx, job.JobID, ids); err != nil {
			log.Warn().Err(err).Str("job_id", job.JobID).Msg("failed to link results to job")
		}
	}
	if err := e.queue.EnqueueCommit(ctx, job); err != nil {
		cleanup()
		return nil, fmt.Errorf("enqueue commit: %w", err)
	}
	metrics.IncCommitJob("queued")
	log.Info().Str("job_id", job.JobID).Int("outputs", len(job.Outputs)).Bool("delete_source", job.DeleteSource).Msg("commit job queued")
	return ids, nil
}

// assemble cuts the selected pages of every part and concatenates them.
func (r *run) assemble(ctx context.Context, gi int, g plan.Group) ([]byte, int, error) {
	pieces := make([]io.ReadSeeker, 0, len(g))
	total := 0
	for _, part := range g {
		src, err := r.open(ctx, gi, part.Document)
		if err != nil {
			return nil, 0, err
		}
		pages, err := plan.ParsePagesStrict(part.Pages)
		if err != nil {
			return nil, 0, &MergeError{Group: gi, Document: part.Document, Err: err}
		}
		if pages == nil {
			pieces = append(pieces, bytes.NewReader(src.doc.Data))
			total += src.pages
			continue
		}
		selected := make([]string, len(pages))
		for i, p := range pages {
			if p > src.pages {
				return nil, 0, &MergeError{Group: gi, Document: part.Document,
					Err: fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, p, src.pages)}
			}
			selected[i] = strconv.Itoa(p)
		}
		var buf bytes.Buffer
		if err := api.Collect(bytes.NewReader(src.doc.Data), &buf, selected, newConf()); err != nil {
			return nil, 0, &MergeError{Group: gi, Document: part.Document, Err: err}
		}
		pieces = append(pieces, bytes.NewReader(buf.Bytes()))
		total += len(pages)
	}

	var out bytes.Buffer
	if err := api.MergeRaw(pieces, &out, false, newConf()); err != nil {
		return nil, 0, &MergeError{Group: gi, Document: g[0].Document, Err: err}
	}
	return out.Bytes(), total, nil
}

func (r *run) open(ctx context.Context, gi int, id string) (*source, error) {
	if s, ok := r.cache[id]; ok {
		return s, nil
	}
	doc, err := r.e.src.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidID) {
			return nil, &MergeError{Group: gi, Document: id, Err: ErrDocumentNotFound}
		}
		return nil, fmt.Errorf("fetch document %s: %w", id, err)
	}
	if !r.e.detector.IsPDF(doc.Data) {
		info := r.e.detector.Detect(doc.Data)
		return nil, &MergeError{Group: gi, Document: id, Err: fmt.Errorf("%w (%s)", ErrNotPDF, info.MIMEType)}
	}
	n, err := api.PageCount(bytes.NewReader(doc.Data), newConf())
	if err != nil {
		return nil, &MergeError{Group: gi, Document: id, Err: err}
	}
	s := &source{doc: doc, pages: n}
	r.cache[id] = s
	return s, nil
}

func outputTitle(d *storage.Document) string {
	if d.Title != "" {
		return d.Title
	}
	return d.ID
}

// outputMetadata carries the catalog fields of the first source when
// copy_first is requested.
func outputMetadata(d *storage.Document, md plan.Metadata) map[string]string {
	if md != plan.MetadataCopyFirst {
		return nil
	}
	m := map[string]string{"source": d.ID}
	if d.Correspondent != "" {
		m["correspondent"] = d.Correspondent
	}
	if d.DocumentType != "" {
		m["document-type"] = d.DocumentType
	}
	if len(d.Tags) > 0 {
		m["tags"] = strings.Join(d.Tags, ",")
	}
	if d.Created != nil {
		m["created"] = d.Created.UTC().Format(time.RFC3339)
	}
	return m
}

// withTitle sets the document info title. Failing to do so leaves the
// output untitled rather than failing the execution.
func withTitle(data []byte, title string) []byte {
	if title == "" {
		return data
	}
	var buf bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(data), &buf, map[string]string{"Title": title}, newConf()); err != nil {
		log.Debug().Err(err).Msg("could not set output title")
		return data
	}
	return buf.Bytes()
}

func sourceIDs(p plan.ExecutionPlan) []string {
	seen := map[string]bool{}
	var ids []string
	for _, g := range p {
		for _, part := range g {
			if !seen[part.Document] {
				seen[part.Document] = true
				ids = append(ids, part.Document)
			}
		}
	}
	return ids
}
