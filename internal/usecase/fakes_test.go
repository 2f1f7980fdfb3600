package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/pustakaid/pustaka-rag/internal/model"
	"github.com/pustakaid/pustaka-rag/internal/repository"
	"github.com/pustakaid/pustaka-rag/internal/service"
)

// In-memory store fakes so the state machine can run without Postgres.

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]model.ProcessingJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]model.ProcessingJob)}
}

func (s *fakeJobStore) Create(job *model.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID.String()] = *job
	return nil
}

func (s *fakeJobStore) Update(job *model.ProcessingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.UpdatedAt = time.Now()
	s.jobs[job.ID.String()] = *job
	return nil
}

func (s *fakeJobStore) FindByID(id string) (*model.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return &j, nil
}

func (s *fakeJobStore) FindPending() ([]model.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ProcessingJob
	for _, j := range s.jobs {
		if !j.Stage.Terminal() {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *fakeJobStore) List(stage model.JobStage, page, pageSize int) ([]model.ProcessingJob, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []model.ProcessingJob
	for _, j := range s.jobs {
		if stage == "" || j.Stage == stage {
			all = append(all, j)
		}
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (s *fakeJobStore) HasCompletedForDocument(docID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.DocumentID == docID && j.Stage == model.StageCompleted {
			return true, nil
		}
	}
	return false, nil
}

type fakeDocumentStore struct {
	mu   sync.Mutex
	docs map[string]model.Document
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{docs: make(map[string]model.Document)}
}

func (s *fakeDocumentStore) Create(doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = time.Now()
	s.docs[doc.ID.String()] = *doc
	return nil
}

func (s *fakeDocumentStore) Update(doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID.String()] = *doc
	return nil
}

func (s *fakeDocumentStore) FindByID(id string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, errors.New("document not found")
	}
	return &d, nil
}

func (s *fakeDocumentStore) FindByHash(hash string) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.ContentHash == hash {
			dd := d
			return &dd, nil
		}
	}
	return nil, nil
}

func (s *fakeDocumentStore) List() ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeDocumentStore) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.docs)), nil
}

type fakeChunkStore struct {
	mu      sync.Mutex
	byDoc   map[uuid.UUID][]model.Chunk
	results []repository.ChunkSearchResult

	lastTopK     int
	lastMinScore float64
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{byDoc: make(map[uuid.UUID][]model.Chunk)}
}

func (s *fakeChunkStore) ReplaceForDocument(_ context.Context, docID uuid.UUID, chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDoc[docID] = append([]model.Chunk(nil), chunks...)
	return nil
}

func (s *fakeChunkStore) DeleteByDocument(docID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDoc, docID)
	return nil
}

func (s *fakeChunkStore) Search(_ pgvector.Vector, topK int, minScore float64) ([]repository.ChunkSearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTopK = topK
	s.lastMinScore = minScore
	var out []repository.ChunkSearchResult
	for _, r := range s.results {
		if r.Score >= minScore {
			out = append(out, r)
		}
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (s *fakeChunkStore) CountByDocument(docID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byDoc[docID])), nil
}

func (s *fakeChunkStore) Metrics() (*repository.ChunkMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m repository.ChunkMetrics
	for _, chunks := range s.byDoc {
		for _, ch := range chunks {
			m.TotalChunks++
			m.StorageBytes += int64(len(ch.Content))
		}
	}
	return &m, nil
}

func (s *fakeChunkStore) chunksFor(docID uuid.UUID) []model.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Chunk(nil), s.byDoc[docID]...)
}

// fakeEmbedder returns deterministic unit vectors, can be told to fail the
// first N calls, and records its peak concurrency.
type fakeEmbedder struct {
	failRemaining int32
	delay         time.Duration

	calls       int32
	inflight    int32
	maxInflight int32
}

func (e *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.GenerateEmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *fakeEmbedder) GenerateEmbeddingBatch(_ context.Context, texts []string) ([][]float32, error) {
	cur := atomic.AddInt32(&e.inflight, 1)
	defer atomic.AddInt32(&e.inflight, -1)
	for {
		max := atomic.LoadInt32(&e.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&e.maxInflight, max, cur) {
			break
		}
	}

	atomic.AddInt32(&e.calls, 1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if atomic.AddInt32(&e.failRemaining, -1) >= 0 {
		return nil, errors.New("embedding backend unavailable")
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *fakeEmbedder) callCount() int {
	return int(atomic.LoadInt32(&e.calls))
}

func (e *fakeEmbedder) peakInflight() int {
	return int(atomic.LoadInt32(&e.maxInflight))
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []service.WebhookPayload
}

func (n *fakeNotifier) Notify(_ string, payload service.WebhookPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, payload)
}

func (n *fakeNotifier) snapshot() []service.WebhookPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]service.WebhookPayload(nil), n.events...)
}
