package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pustakaid/pustaka-rag/internal/config"
	"github.com/pustakaid/pustaka-rag/internal/extract"
	"github.com/pustakaid/pustaka-rag/internal/model"
)

const sampleText = `Vector search turns a question into a point in embedding space and looks
for the stored passages that sit closest to it. The distance between two
points is a proxy for how related their meanings are.

A pipeline that feeds such an index has to be careful about chunking.
Chunks that are too small lose context, chunks that are too large dilute
the embedding and blow past model input limits.

Overlap between consecutive chunks keeps sentences that straddle a
boundary retrievable from either side. Without it, the answer to a
question can be split across two chunks and rank poorly in both.`

type pipelineHarness struct {
	uc       *IngestionUsecase
	jobs     *fakeJobStore
	docs     *fakeDocumentStore
	chunks   *fakeChunkStore
	embedder *fakeEmbedder
	notifier *fakeNotifier
	dir      string
}

func testPipelineConfig(t *testing.T) *config.PipelineConfig {
	return &config.PipelineConfig{
		Workers:          3,
		GroupPause:       time.Millisecond,
		QueueSize:        64,
		ChunkSize:        300,
		ChunkOverlap:     60,
		MaxStageAttempts: 3,
		Backoff:          []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		StageTimeout:     5 * time.Second,
		TopK:             5,
		MinScore:         0.7,
		UploadDir:        t.TempDir(),
	}
}

func newPipelineHarness(t *testing.T, embedder *fakeEmbedder, start bool) *pipelineHarness {
	t.Helper()
	h := &pipelineHarness{
		jobs:     newFakeJobStore(),
		docs:     newFakeDocumentStore(),
		chunks:   newFakeChunkStore(),
		embedder: embedder,
		notifier: &fakeNotifier{},
		dir:      t.TempDir(),
	}
	h.uc = NewIngestionUsecase(h.jobs, h.docs, h.chunks, h.embedder, h.notifier, testPipelineConfig(t))
	if start {
		require.NoError(t, h.uc.Start())
		t.Cleanup(h.uc.Stop)
	}
	return h
}

func (h *pipelineHarness) submitText(t *testing.T, name, content, webhookURL string) *model.ProcessingJob {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	job, err := h.uc.Submit(SubmitRequest{
		Filename:   name,
		Title:      "Vector Search Notes",
		Authors:    "Test Author",
		DocType:    "textbook",
		WebhookURL: webhookURL,
		SourcePath: path,
	})
	require.NoError(t, err)
	return job
}

func waitForStage(t *testing.T, jobs *fakeJobStore, id string, stage model.JobStage) *model.ProcessingJob {
	t.Helper()
	var job *model.ProcessingJob
	require.Eventually(t, func() bool {
		j, err := jobs.FindByID(id)
		if err != nil {
			return false
		}
		job = j
		return j.Stage == stage
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, stage)
	return job
}

func TestSubmitRejectsUnknownFormat(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{}, false)

	_, err := h.uc.Submit(SubmitRequest{
		Filename:   "slides.pptx",
		SourcePath: filepath.Join(h.dir, "slides.pptx"),
	})
	require.ErrorIs(t, err, extract.ErrUnsupportedFormat)
}

func TestIngestDocumentToCompletion(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{}, true)

	job := h.submitText(t, "notes.txt", sampleText, "http://hooks.test/ingest")
	done := waitForStage(t, h.jobs, job.ID.String(), model.StageCompleted)

	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 0, done.RetryCount)
	assert.Empty(t, done.ErrorMessage)
	require.NotNil(t, done.CompletedAt)

	doc, err := h.docs.FindByID(done.DocumentID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount)

	stored := h.chunks.chunksFor(done.DocumentID)
	require.NotEmpty(t, stored)
	for i, ch := range stored {
		assert.Equal(t, i, ch.SeqIndex)
		assert.NotEmpty(t, ch.Content)
		assert.Len(t, ch.Embedding.Slice(), 3)
	}

	events := h.notifier.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "processing.started", events[0].Event)
	last := events[len(events)-1]
	assert.Equal(t, "processing.completed", last.Event)
	assert.Equal(t, done.ID.String(), last.JobID)
	assert.Equal(t, 100, last.Progress)
}

func TestDuplicateContentSkipsProcessing(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{}, true)

	first := h.submitText(t, "notes.txt", sampleText, "")
	waitForStage(t, h.jobs, first.ID.String(), model.StageCompleted)
	callsAfterFirst := h.embedder.callCount()

	// Same bytes under a different filename still dedup by content hash.
	second := h.submitText(t, "copy-of-notes.txt", sampleText, "http://hooks.test/dup")
	assert.Equal(t, model.StageCompleted, second.Stage)
	assert.Equal(t, 100, second.Progress)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, callsAfterFirst, h.embedder.callCount())

	events := h.notifier.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "processing.completed", events[len(events)-1].Event)
}

func TestStageRetriesThenSucceeds(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{failRemaining: 2}, true)

	job := h.submitText(t, "notes.txt", sampleText, "")
	done := waitForStage(t, h.jobs, job.ID.String(), model.StageCompleted)

	assert.Equal(t, 2, done.RetryCount)
	assert.Empty(t, done.ErrorMessage)
	assert.Equal(t, 3, h.embedder.callCount())
}

func TestStageFailsAfterMaxAttempts(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{failRemaining: 100}, true)

	job := h.submitText(t, "notes.txt", sampleText, "http://hooks.test/fail")
	done := waitForStage(t, h.jobs, job.ID.String(), model.StageFailed)

	assert.Equal(t, 3, done.RetryCount)
	assert.Equal(t, 3, h.embedder.callCount())
	assert.Contains(t, done.ErrorMessage, "embedding backend unavailable")
	require.NotNil(t, done.CompletedAt)

	events := h.notifier.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "processing.failed", events[len(events)-1].Event)
}

func TestCancelQueuedJob(t *testing.T) {
	// No dispatcher: the job stays QUEUED so cancellation must take effect
	// immediately instead of waiting for a stage boundary.
	h := newPipelineHarness(t, &fakeEmbedder{}, false)

	job := h.submitText(t, "notes.txt", sampleText, "")
	cancelled, err := h.uc.Cancel(job.ID.String())
	require.NoError(t, err)
	assert.True(t, cancelled)

	got, err := h.jobs.FindByID(job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, got.Stage)
	assert.Equal(t, "cancelled", got.ErrorMessage)

	// Terminal jobs are a no-op.
	cancelled, err = h.uc.Cancel(job.ID.String())
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestRetryRequiresFailedJob(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{}, true)

	job := h.submitText(t, "notes.txt", sampleText, "")
	waitForStage(t, h.jobs, job.ID.String(), model.StageCompleted)

	_, err := h.uc.Retry(job.ID.String())
	require.ErrorIs(t, err, ErrJobNotRetryable)
}

func TestRetryReprocessesFailedJob(t *testing.T) {
	embedder := &fakeEmbedder{failRemaining: 3}
	h := newPipelineHarness(t, embedder, true)

	job := h.submitText(t, "notes.txt", sampleText, "")
	failed := waitForStage(t, h.jobs, job.ID.String(), model.StageFailed)
	require.Equal(t, 3, failed.RetryCount)

	// The backend has recovered; a manual retry re-enters the queue and the
	// lifetime retry counter is kept.
	retried, err := h.uc.Retry(job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, model.StageQueued, retried.Stage)
	assert.Equal(t, 0, retried.Progress)
	assert.Empty(t, retried.ErrorMessage)

	done := waitForStage(t, h.jobs, job.ID.String(), model.StageCompleted)
	assert.Equal(t, 3, done.RetryCount)
	assert.Equal(t, 100, done.Progress)
}

func TestStartResumesPersistedJobs(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{}, false)

	queued := h.submitText(t, "notes.txt", sampleText, "")
	stranded := h.submitText(t, "other.txt", sampleText+"\n\nSecond edition.", "")
	stranded.Stage = model.StageEmbedding
	stranded.Progress = 50
	require.NoError(t, h.jobs.Update(stranded))

	// A fresh orchestrator over the same rows, as after a process restart.
	// The queued job resumes as-is; the stranded one re-enters at QUEUED.
	restarted := NewIngestionUsecase(h.jobs, h.docs, h.chunks, h.embedder, h.notifier, testPipelineConfig(t))
	require.NoError(t, restarted.Start())
	t.Cleanup(restarted.Stop)

	done := waitForStage(t, h.jobs, queued.ID.String(), model.StageCompleted)
	assert.Equal(t, 100, done.Progress)

	resumed := waitForStage(t, h.jobs, stranded.ID.String(), model.StageCompleted)
	assert.Equal(t, 100, resumed.Progress)
	require.NotNil(t, resumed.CompletedAt)
}

func TestBurstSubmissionHonorsWorkerCap(t *testing.T) {
	embedder := &fakeEmbedder{delay: 20 * time.Millisecond}
	h := newPipelineHarness(t, embedder, true)

	var ids []string
	for i := 0; i < 12; i++ {
		content := fmt.Sprintf("%s\n\nDocument variant %d.", sampleText, i)
		job := h.submitText(t, fmt.Sprintf("notes-%d.txt", i), content, "")
		ids = append(ids, job.ID.String())
	}

	for _, id := range ids {
		waitForStage(t, h.jobs, id, model.StageCompleted)
	}
	assert.LessOrEqual(t, embedder.peakInflight(), 3)
}

func TestMetricsAfterIngest(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{}, true)

	job := h.submitText(t, "notes.txt", sampleText, "")
	done := waitForStage(t, h.jobs, job.ID.String(), model.StageCompleted)

	chunkCount := int64(len(h.chunks.chunksFor(done.DocumentID)))
	require.Positive(t, chunkCount)

	m, err := h.uc.Metrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TotalDocuments)
	assert.Equal(t, chunkCount, m.TotalChunks)
	assert.Positive(t, m.StorageBytes)
	assert.InDelta(t, float64(chunkCount), m.AvgChunksPerDocument, 0.001)

	docs, err := h.uc.ListDocuments()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, chunkCount, docs[0].ChunkCount)
}

func TestDeleteDocumentChunks(t *testing.T) {
	h := newPipelineHarness(t, &fakeEmbedder{}, true)

	job := h.submitText(t, "notes.txt", sampleText, "")
	done := waitForStage(t, h.jobs, job.ID.String(), model.StageCompleted)
	require.NotEmpty(t, h.chunks.chunksFor(done.DocumentID))

	require.NoError(t, h.uc.DeleteDocumentChunks(done.DocumentID.String()))
	assert.Empty(t, h.chunks.chunksFor(done.DocumentID))
}
