package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"ethicsprep-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunStore struct {
	mu              sync.Mutex
	run             *models.GenerationRun
	getErr          error
	statuses        []models.GenerationRunStatus
	finalStatus     models.GenerationRunStatus
	failMessage     string
	counts          []int
	progressUpdates int
}

func (s *fakeRunStore) GetByID(_ context.Context, id uuid.UUID) (*models.GenerationRun, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.run == nil || s.run.ID != id {
		return nil, pgx.ErrNoRows
	}
	copied := *s.run
	return &copied, nil
}

func (s *fakeRunStore) UpdateStatus(_ context.Context, _ uuid.UUID, status models.GenerationRunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeRunStore) UpdateProgress(_ context.Context, _ uuid.UUID, _ models.RunSteps) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressUpdates++
	return nil
}

func (s *fakeRunStore) UpdateCounts(_ context.Context, _ uuid.UUID, generated, admitted, rejected, regenRounds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = []int{generated, admitted, rejected, regenRounds}
	return nil
}

func (s *fakeRunStore) Complete(_ context.Context, _ uuid.UUID, status models.GenerationRunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalStatus = status
	return nil
}

func (s *fakeRunStore) Fail(_ context.Context, _ uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalStatus = models.RunStatusFailed
	s.failMessage = errorMessage
	return nil
}

type fakeReportStorage struct {
	mu      sync.Mutex
	reports map[uuid.UUID][]byte
}

func newFakeReportStorage() *fakeReportStorage {
	return &fakeReportStorage{reports: make(map[uuid.UUID][]byte)}
}

func (s *fakeReportStorage) PutReport(_ context.Context, runID uuid.UUID, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[runID] = payload
	return runID.String(), nil
}

func (s *fakeReportStorage) GetReport(_ context.Context, runID uuid.UUID) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.reports[runID]
	if !ok {
		return nil, fmt.Errorf("report not found for run %s", runID)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (s *fakeReportStorage) DeleteReport(_ context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, runID)
	return nil
}

func newTestRun(target int) *models.GenerationRun {
	return &models.GenerationRun{
		ID:          uuid.New(),
		Topic:       "איסור תרמית בניירות ערך",
		Difficulty:  models.DifficultyMedium,
		TargetCount: target,
		Status:      models.RunStatusPending,
		Steps:       InitialRunSteps(),
	}
}

func TestProcessRunCompleted(t *testing.T) {
	run := newTestRun(2)
	runs := &fakeRunStore{run: run}
	reports := newFakeReportStorage()

	gen := &fakeGenerator{fn: func(_ int, topic, _ string, _ int) ([]models.CandidateQuestion, error) {
		return makeCandidates(4, topic), nil
	}}
	p := newTestPipeline(gen, &fakeSolver{fn: agreeHigh}, &fakeQuestionStore{},
		PipelineWithRunRepository(runs),
		PipelineWithReportStorage(reports),
	)

	require.NoError(t, p.ProcessRun(context.Background(), run.ID))

	assert.Equal(t, []models.GenerationRunStatus{models.RunStatusInProgress}, runs.statuses)
	assert.Equal(t, []int{4, 4, 0, 0}, runs.counts)
	assert.Equal(t, models.RunStatusCompleted, runs.finalStatus)
	assert.Positive(t, runs.progressUpdates)

	// No rejections, so no report is written.
	assert.Empty(t, reports.reports)
}

func TestProcessRunShortfallStoresReport(t *testing.T) {
	run := newTestRun(3)
	runs := &fakeRunStore{run: run}
	reports := newFakeReportStorage()

	gen := &fakeGenerator{fn: func(_ int, topic, _ string, _ int) ([]models.CandidateQuestion, error) {
		return makeCandidates(2, topic), nil
	}}
	p := newTestPipeline(gen, &fakeSolver{fn: disagreeHigh}, &fakeQuestionStore{},
		PipelineWithRunRepository(runs),
		PipelineWithReportStorage(reports),
	)

	require.NoError(t, p.ProcessRun(context.Background(), run.ID))

	assert.Equal(t, models.RunStatusShortfall, runs.finalStatus)
	assert.Equal(t, []int{4, 0, 4, 1}, runs.counts)

	payload, ok := reports.reports[run.ID]
	require.True(t, ok)

	var report CellReport
	require.NoError(t, json.Unmarshal(payload, &report))
	assert.Len(t, report.Rejections, 4)
	assert.True(t, report.Shortfall)
}

func TestProcessRunFailure(t *testing.T) {
	run := newTestRun(2)
	runs := &fakeRunStore{run: run}

	gen := &fakeGenerator{fn: func(int, string, string, int) ([]models.CandidateQuestion, error) {
		return nil, fmt.Errorf("%w: provider unavailable", ErrGenerationFailed)
	}}
	p := newTestPipeline(gen, &fakeSolver{fn: agreeHigh}, nil,
		PipelineWithRunRepository(runs),
	)

	err := p.ProcessRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, runs.finalStatus)
	assert.Contains(t, runs.failMessage, "provider unavailable")
}

func TestProcessRunUnknownRun(t *testing.T) {
	p := newTestPipeline(&fakeGenerator{}, &fakeSolver{fn: agreeHigh}, nil,
		PipelineWithRunRepository(&fakeRunStore{}),
	)

	err := p.ProcessRun(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestProcessRunStoreOutageIsNotNotFound(t *testing.T) {
	outage := errors.New("connection refused")
	p := newTestPipeline(&fakeGenerator{}, &fakeSolver{fn: agreeHigh}, nil,
		PipelineWithRunRepository(&fakeRunStore{getErr: outage}),
	)

	err := p.ProcessRun(context.Background(), uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, err, outage)
}
