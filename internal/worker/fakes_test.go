package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/rx-pipeline/internal/domain"
	"github.com/cuongbtq/rx-pipeline/shared/logger"
)

const testJobID = "7b1f5a2e-2d7c-4a53-9a55-0a8f5e0e9f11"

type fakeStore struct {
	mu        sync.Mutex
	claimErr  error
	finishErr error
	insertErr error
	claims    []domain.JobMetric
	finishes  []domain.JobMetric
	lines     []domain.RecipeLine
}

func (f *fakeStore) ClaimJob(_ context.Context, m domain.JobMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, m)
	return f.claimErr
}

func (f *fakeStore) FinishJob(_ context.Context, m domain.JobMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return f.finishErr
	}
	f.finishes = append(f.finishes, m)
	return nil
}

func (f *fakeStore) InsertRecipeLines(_ context.Context, lines []domain.RecipeLine) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.lines = append(f.lines, lines...)
	return int64(len(lines)), nil
}

type fakeExtractor struct {
	classification domain.Classification
	classifyErr    error
	extraction     domain.Extraction
	extractErr     error
	block          bool
	panics         bool

	classifyCalls int
	imageCalls    int
	textCalls     int
	lastText      string
}

func (f *fakeExtractor) ClassifyImage(ctx context.Context, _, _ string) (domain.Classification, error) {
	f.classifyCalls++
	if f.block {
		<-ctx.Done()
		return domain.Classification{}, ctx.Err()
	}
	return f.classification, f.classifyErr
}

func (f *fakeExtractor) ExtractFromImage(_ context.Context, _, _ string) (domain.Extraction, error) {
	f.imageCalls++
	if f.panics {
		panic("nil map")
	}
	return f.extraction, f.extractErr
}

func (f *fakeExtractor) ExtractFromText(_ context.Context, text, _ string) (domain.Extraction, error) {
	f.textCalls++
	f.lastText = text
	return f.extraction, f.extractErr
}

type fakeReader struct {
	text  string
	err   error
	calls int
}

func (f *fakeReader) ReadText(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeArchiver) Archive(_ context.Context, _, filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, filePath)
	return f.err
}

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
	done    chan struct{}
}

func newFakeAck() *fakeAck {
	return &fakeAck{done: make(chan struct{}, 1)}
}

func (f *fakeAck) Ack(bool) error {
	f.mu.Lock()
	f.acks++
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeAck) Nack(_, requeue bool) error {
	f.mu.Lock()
	f.nacks++
	f.requeue = requeue
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

type testDeps struct {
	store     *fakeStore
	extractor *fakeExtractor
	reader    *fakeReader
	archiver  *fakeArchiver
}

func newTestWorker(deps testDeps) *Worker {
	return NewWorker(&Config{
		Logger:           logger.NewNop().Logger,
		Store:            deps.store,
		Extractor:        deps.extractor,
		PDFReader:        deps.reader,
		Archiver:         deps.archiver,
		WorkerID:         "test-worker",
		Concurrency:      2,
		JobTimeout:       time.Second,
		MinPDFTextLength: 30,
	})
}

func writeSource(t *testing.T, ext string) domain.Task {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, testJobID+"."+ext)
	require.NoError(t, os.WriteFile(path, []byte("source"), 0o600))

	return domain.Task{
		FilePath: path,
		Ext:      ext,
		Filename: testJobID + "." + ext,
		JobID:    testJobID,
		ClientID: "client-1",
	}
}

func strPtr(s string) *string {
	return &s
}

func sampleExtraction() domain.Extraction {
	return domain.Extraction{Result: &domain.ExtractionResult{
		Patient: strPtr("MARIA DA SILVA"),
		Doctor:  strPtr("Dra. Ana Souza CRM-SP 123456"),
		Medications: map[string]domain.Medication{
			"Formula 2": {
				RawMaterials: []domain.RawMaterial{{Active: "biotina", Dose: "5", Unity: "MG"}},
				Form:         "capsula",
				Posology:     "Tomar 1 cápsula 2x ao dia por 30 dias",
			},
			"Formula 1": {
				RawMaterials: []domain.RawMaterial{
					{Active: "MINOXIDIL", Dose: 2.5, Unity: "mg"},
					{Active: "finasterida", Dose: "1,0", Unity: "mg"},
				},
				Form:     "capsula",
				Type:     "oral",
				Posology: "1 ao dia",
				Quantity: "60",
			},
		},
	}}
}
