package usecase

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pgvector/pgvector-go"

	"github.com/pustakaid/pustaka-rag/internal/chunker"
	"github.com/pustakaid/pustaka-rag/internal/config"
	"github.com/pustakaid/pustaka-rag/internal/extract"
	"github.com/pustakaid/pustaka-rag/internal/model"
	"github.com/pustakaid/pustaka-rag/internal/repository"
	"github.com/pustakaid/pustaka-rag/internal/service"
)

var (
	ErrJobNotRetryable = errors.New("job is not in a retryable state")
	ErrQueueFull       = errors.New("processing queue is full")
)

// JobStore persists processing jobs. The database row is the source of
// truth; the orchestrator holds no job state beyond the run it owns.
type JobStore interface {
	Create(job *model.ProcessingJob) error
	Update(job *model.ProcessingJob) error
	FindByID(id string) (*model.ProcessingJob, error)
	FindPending() ([]model.ProcessingJob, error)
	List(stage model.JobStage, page, pageSize int) ([]model.ProcessingJob, int64, error)
	HasCompletedForDocument(docID uuid.UUID) (bool, error)
}

type DocumentStore interface {
	Create(doc *model.Document) error
	Update(doc *model.Document) error
	FindByID(id string) (*model.Document, error)
	FindByHash(hash string) (*model.Document, error)
	List() ([]model.Document, error)
	Count() (int64, error)
}

type ChunkStore interface {
	ReplaceForDocument(ctx context.Context, docID uuid.UUID, chunks []model.Chunk) error
	DeleteByDocument(docID uuid.UUID) error
	Search(embedding pgvector.Vector, topK int, minScore float64) ([]repository.ChunkSearchResult, error)
	CountByDocument(docID uuid.UUID) (int64, error)
	Metrics() (*repository.ChunkMetrics, error)
}

// SubmitRequest carries one document submission. SourcePath points at the
// already-saved upload; the metadata fields come from the external metadata
// collaborator.
type SubmitRequest struct {
	Filename   string
	Title      string
	Authors    string
	DocType    string
	WebhookURL string
	SourcePath string
}

// PipelineMetrics aggregates storage counters for the metrics endpoint.
type PipelineMetrics struct {
	TotalDocuments       int64   `json:"total_documents"`
	TotalChunks          int64   `json:"total_chunks"`
	StorageBytes         int64   `json:"storage_bytes"`
	AvgChunksPerDocument float64 `json:"avg_chunks_per_document"`
}

// DocumentSummary is a document row with its stored chunk count.
type DocumentSummary struct {
	model.Document
	ChunkCount int64 `json:"chunk_count"`
}

// IngestionUsecase drives each job through Extract -> Chunk -> Embed ->
// Store. At most cfg.Workers documents are in flight; the dispatcher admits
// jobs group-wise and pauses between groups to throttle the extraction and
// embedding services under burst submission.
type IngestionUsecase struct {
	jobs     JobStore
	docs     DocumentStore
	chunks   ChunkStore
	embedder service.GeminiServiceInterface
	webhook  service.WebhookNotifierInterface
	chunker  *chunker.Chunker
	cfg      *config.PipelineConfig

	pool      *ants.Pool
	queue     chan string
	cancelled sync.Map // job id -> struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewIngestionUsecase(
	jobs JobStore,
	docs DocumentStore,
	chunks ChunkStore,
	embedder service.GeminiServiceInterface,
	webhook service.WebhookNotifierInterface,
	cfg *config.PipelineConfig,
) *IngestionUsecase {
	return &IngestionUsecase{
		jobs:     jobs,
		docs:     docs,
		chunks:   chunks,
		embedder: embedder,
		webhook:  webhook,
		chunker:  chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start creates the worker pool, re-enqueues jobs that were pending when the
// process last stopped and launches the dispatcher.
func (uc *IngestionUsecase) Start() error {
	pool, err := ants.NewPool(uc.cfg.Workers)
	if err != nil {
		return err
	}
	uc.pool = pool
	if err := uc.recoverPending(); err != nil {
		log.Printf("failed to recover pending jobs: %v", err)
	}
	go uc.dispatch()
	return nil
}

// recoverPending reloads jobs the table still shows as unfinished. The row is
// the source of truth: a job stranded mid-stage by a crash re-enters at
// QUEUED and re-runs every stage from scratch.
func (uc *IngestionUsecase) recoverPending() error {
	pending, err := uc.jobs.FindPending()
	if err != nil {
		return err
	}
	for i := range pending {
		job := &pending[i]
		if job.Stage != model.StageQueued {
			log.Printf("job %s: stranded at %s, resetting to %s", job.ID, job.Stage, model.StageQueued)
			job.Stage = model.StageQueued
			job.Progress = 0
			if err := uc.jobs.Update(job); err != nil {
				log.Printf("job %s: failed to reset for recovery: %v", job.ID, err)
				continue
			}
		}
		select {
		case uc.queue <- job.ID.String():
		default:
			uc.fail(job, ErrQueueFull)
		}
	}
	return nil
}

func (uc *IngestionUsecase) Stop() {
	uc.stopOnce.Do(func() {
		close(uc.stopCh)
		if uc.pool != nil {
			uc.pool.Release()
		}
	})
}

// Submit validates the format, dedup-checks the content hash and enqueues a
// new job. Identical bytes with a prior COMPLETED job short-circuit to
// COMPLETED without re-running any stage.
func (uc *IngestionUsecase) Submit(req SubmitRequest) (*model.ProcessingJob, error) {
	format, err := extract.DetectFormat(req.Filename)
	if err != nil {
		return nil, err
	}

	hash, err := computeFileHash(req.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash upload: %w", err)
	}

	doc, err := uc.docs.FindByHash(hash)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = &model.Document{
			Filename:    req.Filename,
			ContentHash: hash,
			Format:      string(format),
			Title:       req.Title,
			Authors:     req.Authors,
			DocType:     req.DocType,
		}
		if err := uc.docs.Create(doc); err != nil {
			return nil, err
		}
	}

	job := &model.ProcessingJob{
		DocumentID: doc.ID,
		SourcePath: req.SourcePath,
		Stage:      model.StageQueued,
		WebhookURL: req.WebhookURL,
	}

	done, err := uc.jobs.HasCompletedForDocument(doc.ID)
	if err != nil {
		return nil, err
	}
	if done {
		// Idempotent re-submission: the stored chunk set already exists.
		now := time.Now()
		job.Stage = model.StageCompleted
		job.Progress = 100
		job.CompletedAt = &now
		if err := uc.jobs.Create(job); err != nil {
			return nil, err
		}
		log.Printf("job %s: duplicate content hash %s, completed without processing", job.ID, hash)
		uc.notify(job, "processing.completed")
		return job, nil
	}

	if err := uc.jobs.Create(job); err != nil {
		return nil, err
	}

	select {
	case uc.queue <- job.ID.String():
	default:
		job.Stage = model.StageFailed
		job.ErrorMessage = ErrQueueFull.Error()
		_ = uc.jobs.Update(job)
		return nil, ErrQueueFull
	}
	return job, nil
}

// dispatch admits queued jobs in groups of up to cfg.Workers, waits for each
// group, then pauses before the next one when more work is pending.
func (uc *IngestionUsecase) dispatch() {
	for {
		var batch []string
		select {
		case <-uc.stopCh:
			return
		case id := <-uc.queue:
			batch = append(batch, id)
		}
	drain:
		for len(batch) < uc.cfg.Workers {
			select {
			case id := <-uc.queue:
				batch = append(batch, id)
			default:
				break drain
			}
		}

		var wg sync.WaitGroup
		for _, id := range batch {
			id := id
			wg.Add(1)
			if err := uc.pool.Submit(func() {
				defer wg.Done()
				uc.runJob(id)
			}); err != nil {
				wg.Done()
				log.Printf("failed to submit job %s to pool: %v", id, err)
			}
		}
		wg.Wait()

		if len(uc.queue) > 0 {
			select {
			case <-uc.stopCh:
				return
			case <-time.After(uc.cfg.GroupPause):
			}
		}
	}
}

// jobRun is the per-run pipeline state shared between stages. A retried
// stage always re-runs from its start against this state.
type jobRun struct {
	job     *model.ProcessingJob
	doc     *model.Document
	spans   []extract.Span
	chunks  []chunker.Chunk
	vectors [][]float32
}

func (uc *IngestionUsecase) runJob(id string) {
	defer uc.cancelled.Delete(id)

	job, err := uc.jobs.FindByID(id)
	if err != nil {
		log.Printf("job %s: failed to load: %v", id, err)
		return
	}
	if job.Stage != model.StageQueued {
		return
	}
	if uc.cancelRequested(id) {
		uc.markCancelled(job)
		return
	}

	doc, err := uc.docs.FindByID(job.DocumentID.String())
	if err != nil {
		uc.fail(job, fmt.Errorf("failed to load document: %w", err))
		return
	}
	run := &jobRun{job: job, doc: doc}

	stages := []struct {
		stage    model.JobStage
		progress int
		event    string
		fn       func(ctx context.Context) error
	}{
		{model.StageExtracting, 25, "processing.started", func(ctx context.Context) error { return uc.stageExtract(ctx, run) }},
		{model.StageChunking, 50, "processing.progress", func(ctx context.Context) error { return uc.stageChunk(ctx, run) }},
		{model.StageEmbedding, 75, "processing.progress", func(ctx context.Context) error { return uc.stageEmbed(ctx, run) }},
		{model.StageStoring, 100, "processing.progress", func(ctx context.Context) error { return uc.stageStore(ctx, run) }},
	}

	for _, st := range stages {
		// Cancellation is observed at stage boundaries only.
		if uc.cancelRequested(id) {
			uc.markCancelled(job)
			return
		}
		uc.transition(job, st.stage, job.Progress, st.event)
		if err := uc.runStage(job, st.fn); err != nil {
			uc.fail(job, err)
			return
		}
		job.Progress = st.progress
		if err := uc.jobs.Update(job); err != nil {
			log.Printf("job %s: failed to persist progress: %v", job.ID, err)
		}
	}

	uc.transition(job, model.StageCompleted, 100, "processing.completed")
}

// runStage executes one stage with the retry policy: on failure the same
// stage is re-attempted after a backoff, up to cfg.MaxStageAttempts total
// attempts. Each attempt carries its own timeout; expiry counts as failure.
func (uc *IngestionUsecase) runStage(job *model.ProcessingJob, fn func(context.Context) error) error {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), uc.cfg.StageTimeout)
		err := fn(ctx)
		cancel()
		if err == nil {
			if job.ErrorMessage != "" {
				job.ErrorMessage = ""
				_ = uc.jobs.Update(job)
			}
			return nil
		}

		job.ErrorMessage = err.Error()
		delayIdx := job.RetryCount
		job.RetryCount++
		if uerr := uc.jobs.Update(job); uerr != nil {
			log.Printf("job %s: failed to persist retry count: %v", job.ID, uerr)
		}
		if job.RetryCount >= uc.cfg.MaxStageAttempts {
			return err
		}

		if delayIdx >= len(uc.cfg.Backoff) {
			delayIdx = len(uc.cfg.Backoff) - 1
		}
		delay := uc.cfg.Backoff[delayIdx]
		log.Printf("job %s: stage %s failed (retry %d): %v, retrying in %v",
			job.ID, job.Stage, job.RetryCount, err, delay)

		select {
		case <-time.After(delay):
		case <-uc.stopCh:
			return err
		}
	}
}

func (uc *IngestionUsecase) stageExtract(ctx context.Context, run *jobRun) error {
	ex, err := extract.ForFormat(extract.Format(run.doc.Format))
	if err != nil {
		return err
	}
	spans, err := ex.Extract(ctx, run.job.SourcePath)
	if err != nil {
		return err
	}
	run.spans = spans

	pages := 0
	for _, s := range spans {
		if s.Page > pages {
			pages = s.Page
		}
	}
	run.doc.PageCount = pages
	if err := uc.docs.Update(run.doc); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return nil
}

func (uc *IngestionUsecase) stageChunk(_ context.Context, run *jobRun) error {
	chunks := uc.chunker.Chunk(run.spans)
	if len(chunks) == 0 {
		return extract.ErrNoExtractableContent
	}
	run.chunks = chunks
	return nil
}

func (uc *IngestionUsecase) stageEmbed(ctx context.Context, run *jobRun) error {
	texts := make([]string, len(run.chunks))
	for i, ch := range run.chunks {
		texts[i] = ch.Text
	}
	vectors, err := uc.embedder.GenerateEmbeddingBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}
	if len(vectors) != len(run.chunks) {
		return fmt.Errorf("embedding service returned %d vectors for %d chunks", len(vectors), len(run.chunks))
	}
	run.vectors = vectors
	return nil
}

func (uc *IngestionUsecase) stageStore(ctx context.Context, run *jobRun) error {
	rows := make([]model.Chunk, len(run.chunks))
	for i, ch := range run.chunks {
		rows[i] = model.Chunk{
			DocumentID: run.doc.ID,
			SeqIndex:   ch.SeqIndex,
			Content:    ch.Text,
			CharStart:  ch.CharStart,
			CharEnd:    ch.CharEnd,
			PageStart:  ch.PageStart,
			PageEnd:    ch.PageEnd,
			Marker:     string(ch.Marker),
			Embedding:  pgvector.NewVector(run.vectors[i]),
		}
	}
	if err := uc.chunks.ReplaceForDocument(ctx, run.doc.ID, rows); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// Cancel requests cooperative cancellation. Queued jobs are failed
// immediately; in-flight jobs observe the request at the next stage
// boundary. Terminal jobs are a no-op.
func (uc *IngestionUsecase) Cancel(id string) (bool, error) {
	job, err := uc.jobs.FindByID(id)
	if err != nil {
		return false, err
	}
	if job.Stage.Terminal() {
		return false, nil
	}
	uc.cancelled.Store(id, struct{}{})
	if job.Stage == model.StageQueued {
		uc.markCancelled(job)
	}
	return true, nil
}

// Retry re-enters a FAILED job at QUEUED. RetryCount is preserved as a
// lifetime audit counter for the job.
func (uc *IngestionUsecase) Retry(id string) (*model.ProcessingJob, error) {
	job, err := uc.jobs.FindByID(id)
	if err != nil {
		return nil, err
	}
	if job.Stage != model.StageFailed {
		return nil, ErrJobNotRetryable
	}

	uc.cancelled.Delete(id)
	job.Stage = model.StageQueued
	job.Progress = 0
	job.ErrorMessage = ""
	job.CompletedAt = nil
	if err := uc.jobs.Update(job); err != nil {
		return nil, err
	}

	select {
	case uc.queue <- job.ID.String():
	default:
		return nil, ErrQueueFull
	}
	return job, nil
}

func (uc *IngestionUsecase) GetJob(id string) (*model.ProcessingJob, error) {
	return uc.jobs.FindByID(id)
}

func (uc *IngestionUsecase) ListJobs(stage model.JobStage, page, pageSize int) ([]model.ProcessingJob, int64, error) {
	return uc.jobs.List(stage, page, pageSize)
}

func (uc *IngestionUsecase) Metrics() (*PipelineMetrics, error) {
	docCount, err := uc.docs.Count()
	if err != nil {
		return nil, err
	}
	cm, err := uc.chunks.Metrics()
	if err != nil {
		return nil, err
	}
	m := &PipelineMetrics{
		TotalDocuments: docCount,
		TotalChunks:    cm.TotalChunks,
		StorageBytes:   cm.StorageBytes,
	}
	if docCount > 0 {
		m.AvgChunksPerDocument = float64(cm.TotalChunks) / float64(docCount)
	}
	return m, nil
}

func (uc *IngestionUsecase) ListDocuments() ([]DocumentSummary, error) {
	docs, err := uc.docs.List()
	if err != nil {
		return nil, err
	}
	summaries := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		n, err := uc.chunks.CountByDocument(d.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, DocumentSummary{Document: d, ChunkCount: n})
	}
	return summaries, nil
}

// DeleteDocumentChunks removes a document's chunk set. Document and job
// rows stay for audit.
func (uc *IngestionUsecase) DeleteDocumentChunks(id string) error {
	docID, err := uuid.Parse(id)
	if err != nil {
		return err
	}
	return uc.chunks.DeleteByDocument(docID)
}

func (uc *IngestionUsecase) cancelRequested(id string) bool {
	_, ok := uc.cancelled.Load(id)
	return ok
}

func (uc *IngestionUsecase) markCancelled(job *model.ProcessingJob) {
	job.ErrorMessage = "cancelled"
	uc.transition(job, model.StageFailed, job.Progress, "processing.failed")
}

func (uc *IngestionUsecase) fail(job *model.ProcessingJob, err error) {
	job.ErrorMessage = err.Error()
	uc.transition(job, model.StageFailed, job.Progress, "processing.failed")
}

func (uc *IngestionUsecase) transition(job *model.ProcessingJob, stage model.JobStage, progress int, event string) {
	job.Stage = stage
	job.Progress = progress
	if stage.Terminal() {
		now := time.Now()
		job.CompletedAt = &now
	}
	if err := uc.jobs.Update(job); err != nil {
		log.Printf("job %s: failed to persist transition to %s: %v", job.ID, stage, err)
	}
	log.Printf("job %s -> %s (progress %d%%)", job.ID, stage, progress)
	uc.notify(job, event)
}

func (uc *IngestionUsecase) notify(job *model.ProcessingJob, event string) {
	if job.WebhookURL == "" {
		return
	}
	uc.webhook.Notify(job.WebhookURL, service.WebhookPayload{
		Event:       event,
		JobID:       job.ID.String(),
		DocumentRef: job.DocumentID.String(),
		Stage:       string(job.Stage),
		Progress:    job.Progress,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func computeFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}
