package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"ethicsprep-backend/logger"
	"ethicsprep-backend/models"
	"ethicsprep-backend/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"
)

// CandidateState tracks a candidate through the admission state machine.
type CandidateState string

const (
	StateGenerated         CandidateState = "generated"
	StateStructurallyValid CandidateState = "structurally_valid"
	StateExpertVerified    CandidateState = "expert_verified"
	StateAdmitted          CandidateState = "admitted"
	StateRejected          CandidateState = "rejected"
)

// Run step names reported to clients polling a generation run.
const (
	stepGenerate = "Generating candidates"
	stepVerify   = "Expert verification"
	stepPersist  = "Persisting admitted questions"
)

var (
	ErrRunNotFound = errors.New("generation run not found")
)

// AdmissionPolicy is the explicit, testable policy governing batch sizing,
// bounded regeneration and the admission confidence bar.
type AdmissionPolicy struct {
	// SurplusMultiplier oversizes generation batches to compensate for the
	// expected rejection rate.
	SurplusMultiplier float64
	// MaxRegenRounds bounds how many additional batches may be generated
	// when admissions fall short of target. The admission bar is never
	// lowered instead.
	MaxRegenRounds int
	// MinConfidence is the expert confidence a candidate must reach to be
	// admitted on agreement.
	MinConfidence models.Confidence
	// VerifyConcurrency bounds parallel expert verification calls within
	// one batch.
	VerifyConcurrency int
	// CellTimeout bounds total wall-clock time per (topic, difficulty)
	// cell. Zero disables the bound.
	CellTimeout time.Duration
}

// DefaultAdmissionPolicy returns the documented default policy.
func DefaultAdmissionPolicy() AdmissionPolicy {
	return AdmissionPolicy{
		SurplusMultiplier: 2.0,
		MaxRegenRounds:    1,
		MinConfidence:     models.ConfidenceHigh,
		VerifyConcurrency: 3,
		CellTimeout:       10 * time.Minute,
	}
}

// RejectionRecord explains why one candidate was rejected. Records are kept
// for offline quality review only.
type RejectionRecord struct {
	Question     models.CandidateQuestion `json:"question"`
	State        CandidateState           `json:"state"`
	Reason       string                   `json:"reason"`
	ExpertAnswer string                   `json:"expert_answer,omitempty"`
	Confidence   models.Confidence        `json:"confidence,omitempty"`
}

// CellReport is the outcome of one generate-and-validate cycle for a
// (topic, difficulty) cell.
type CellReport struct {
	Topic       string                    `json:"topic"`
	Difficulty  string                    `json:"difficulty"`
	TargetCount int                       `json:"target_count"`
	Generated   int                       `json:"generated"`
	Rejected    int                       `json:"rejected"`
	RegenRounds int                       `json:"regen_rounds"`
	Admitted    []models.AdmittedQuestion `json:"admitted"`
	Rejections  []RejectionRecord         `json:"rejections,omitempty"`
	Shortfall   bool                      `json:"shortfall"`
}

// VerifyResult is the outcome of a standalone verification of one question.
type VerifyResult struct {
	Agrees         bool              `json:"agrees"`
	ExpertAnswer   string            `json:"expert_answer"`
	Confidence     models.Confidence `json:"confidence"`
	Reasoning      string            `json:"reasoning,omitempty"`
	MeetsThreshold bool              `json:"meets_threshold"`
}

// QuestionGenerator produces candidate batches.
type QuestionGenerator interface {
	Generate(ctx context.Context, topic, difficulty string, count int) ([]models.CandidateQuestion, error)
}

// QuestionSolver independently re-derives answers.
type QuestionSolver interface {
	Solve(ctx context.Context, questionText string, options models.Options, k int) (*models.ExpertOpinion, error)
	ModelName() string
}

// QuestionStore persists admitted questions.
type QuestionStore interface {
	InsertBatch(ctx context.Context, questions []*models.AdmittedQuestion) error
	CountByCell(ctx context.Context, topic, difficulty string) (int, error)
}

// RunStore tracks generation runs.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRun, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.GenerationRunStatus) error
	UpdateProgress(ctx context.Context, id uuid.UUID, steps models.RunSteps) error
	UpdateCounts(ctx context.Context, id uuid.UUID, generated, admitted, rejected, regenRounds int) error
	Complete(ctx context.Context, id uuid.UUID, status models.GenerationRunStatus) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// PipelineService orchestrates generation, independent expert verification
// and admission for (topic, difficulty) cells.
type PipelineService struct {
	generator QuestionGenerator
	expert    QuestionSolver
	questions QuestionStore
	runs      RunStore
	reports   storage.Storage
	log       *logger.Logger
	policy    AdmissionPolicy
}

// PipelineServiceOption is a functional option for PipelineService
type PipelineServiceOption func(*PipelineService)

// PipelineWithGenerator sets the question generator
func PipelineWithGenerator(g QuestionGenerator) PipelineServiceOption {
	return func(s *PipelineService) {
		s.generator = g
	}
}

// PipelineWithExpert sets the expert solver
func PipelineWithExpert(e QuestionSolver) PipelineServiceOption {
	return func(s *PipelineService) {
		s.expert = e
	}
}

// PipelineWithQuestionRepository sets the admitted question store
func PipelineWithQuestionRepository(q QuestionStore) PipelineServiceOption {
	return func(s *PipelineService) {
		s.questions = q
	}
}

// PipelineWithRunRepository sets the generation run store
func PipelineWithRunRepository(r RunStore) PipelineServiceOption {
	return func(s *PipelineService) {
		s.runs = r
	}
}

// PipelineWithReportStorage sets the rejection report storage
func PipelineWithReportStorage(st storage.Storage) PipelineServiceOption {
	return func(s *PipelineService) {
		s.reports = st
	}
}

// PipelineWithLogger sets the logger
func PipelineWithLogger(log *logger.Logger) PipelineServiceOption {
	return func(s *PipelineService) {
		s.log = log
	}
}

// PipelineWithPolicy overrides the admission policy
func PipelineWithPolicy(p AdmissionPolicy) PipelineServiceOption {
	return func(s *PipelineService) {
		s.policy = p
	}
}

// NewPipelineService creates a new validation and admission pipeline
func NewPipelineService(opts ...PipelineServiceOption) *PipelineService {
	s := &PipelineService{policy: DefaultAdmissionPolicy()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.policy.SurplusMultiplier < 1 {
		s.policy.SurplusMultiplier = 1
	}
	if s.policy.VerifyConcurrency < 1 {
		s.policy.VerifyConcurrency = 1
	}
	return s
}

// Policy returns the active admission policy.
func (s *PipelineService) Policy() AdmissionPolicy {
	return s.policy
}

type progressFunc func(step, status string)

// GenerateAndValidate runs one full generate-verify-admit cycle for a
// (topic, difficulty) cell and persists every admitted question. All
// admitted questions are kept even when they exceed the target.
func (s *PipelineService) GenerateAndValidate(ctx context.Context, topic, difficulty string, targetCount int) (*CellReport, error) {
	return s.generateAndValidate(ctx, topic, difficulty, targetCount, nil)
}

func (s *PipelineService) generateAndValidate(ctx context.Context, topic, difficulty string, targetCount int, progress progressFunc) (*CellReport, error) {
	if s.generator == nil {
		return nil, errors.New("question generator not set")
	}
	if s.expert == nil {
		return nil, errors.New("expert solver not set")
	}
	if targetCount <= 0 {
		return nil, errors.New("target count must be positive")
	}

	report := &CellReport{
		Topic:       topic,
		Difficulty:  difficulty,
		TargetCount: targetCount,
	}

	notify := func(step, status string) {
		if progress != nil {
			progress(step, status)
		}
	}

	// The cell timeout bounds generation and verification only; persistence
	// below runs detached so admitted questions survive a deadline that
	// fires mid-verification.
	cellCtx := ctx
	if s.policy.CellTimeout > 0 {
		var cancel context.CancelFunc
		cellCtx, cancel = context.WithTimeout(ctx, s.policy.CellTimeout)
		defer cancel()
	}

	for round := 0; round <= s.policy.MaxRegenRounds; round++ {
		needed := targetCount - len(report.Admitted)
		if needed <= 0 {
			break
		}
		if round > 0 {
			report.RegenRounds++
			s.log.Info("regenerating after shortfall",
				"topic", topic,
				"difficulty", difficulty,
				"admitted", len(report.Admitted),
				"target", targetCount,
				"round", round,
			)
		}

		batchSize := int(math.Ceil(float64(needed) * s.policy.SurplusMultiplier))

		notify(stepGenerate, "in_progress")
		candidates, err := s.generator.Generate(cellCtx, topic, difficulty, batchSize)
		if err != nil {
			notify(stepGenerate, "failed")
			if cellCtx.Err() != nil {
				s.log.Warn("cell timed out during generation, finishing with partial results",
					"topic", topic, "difficulty", difficulty, "admitted", len(report.Admitted))
				break
			}
			if round == 0 {
				// Generator outage on the initial batch is cell-fatal.
				return nil, err
			}
			s.log.Warn("regeneration batch failed, finishing with partial results",
				"topic", topic, "error", err)
			break
		}
		notify(stepGenerate, "completed")
		report.Generated += len(candidates)

		notify(stepVerify, "in_progress")
		admitted, rejections := s.validateBatch(cellCtx, candidates)
		notify(stepVerify, "completed")

		report.Admitted = append(report.Admitted, admitted...)
		report.Rejections = append(report.Rejections, rejections...)

		if cellCtx.Err() != nil {
			s.log.Warn("cell timed out during verification, finishing with partial results",
				"topic", topic, "difficulty", difficulty, "admitted", len(report.Admitted))
			break
		}
	}

	report.Rejected = len(report.Rejections)
	report.Shortfall = len(report.Admitted) < targetCount

	if len(report.Admitted) > 0 && s.questions != nil {
		notify(stepPersist, "in_progress")
		toInsert := make([]*models.AdmittedQuestion, len(report.Admitted))
		for i := range report.Admitted {
			toInsert[i] = &report.Admitted[i]
		}
		// Detached context: admitted questions already paid for expert
		// verification and are kept even when the cell deadline has fired.
		if err := s.questions.InsertBatch(context.WithoutCancel(ctx), toInsert); err != nil {
			notify(stepPersist, "failed")
			return nil, fmt.Errorf("failed to persist admitted questions: %w", err)
		}
		notify(stepPersist, "completed")
	} else {
		notify(stepPersist, "completed")
	}

	s.log.Info("cell completed",
		"topic", topic,
		"difficulty", difficulty,
		"generated", report.Generated,
		"admitted", len(report.Admitted),
		"rejected", report.Rejected,
		"regen_rounds", report.RegenRounds,
		"shortfall", report.Shortfall,
	)

	return report, nil
}

// validateBatch runs every candidate through the admission state machine.
// Structural rejection happens before any expert call; verification of the
// surviving candidates runs concurrently up to VerifyConcurrency, and one
// candidate's failure never aborts its siblings.
func (s *PipelineService) validateBatch(ctx context.Context, candidates []models.CandidateQuestion) ([]models.AdmittedQuestion, []RejectionRecord) {
	var rejections []RejectionRecord

	valid := make([]models.CandidateQuestion, 0, len(candidates))
	for _, candidate := range candidates {
		if err := candidate.Validate(); err != nil {
			rejections = append(rejections, RejectionRecord{
				Question: candidate,
				State:    StateGenerated,
				Reason:   "structural validation failed: " + err.Error(),
			})
			continue
		}
		valid = append(valid, candidate)
	}

	type verdict struct {
		opinion *models.ExpertOpinion
		err     error
	}
	verdicts := make([]verdict, len(valid))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.policy.VerifyConcurrency)
	for i := range valid {
		g.Go(func() error {
			opinion, err := s.expert.Solve(groupCtx, valid[i].QuestionText, valid[i].Options, 0)
			verdicts[i] = verdict{opinion: opinion, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var admitted []models.AdmittedQuestion
	for i, candidate := range valid {
		v := verdicts[i]
		if v.err != nil {
			s.log.Warn("expert verification failed, rejecting candidate",
				"topic", candidate.Topic, "error", v.err)
			rejections = append(rejections, RejectionRecord{
				Question: candidate,
				State:    StateStructurallyValid,
				Reason:   "cannot verify: " + v.err.Error(),
			})
			continue
		}

		opinion := v.opinion
		if opinion.Answer != candidate.CorrectAnswer {
			rejections = append(rejections, RejectionRecord{
				Question:     candidate,
				State:        StateExpertVerified,
				Reason:       "expert disagrees with claimed answer",
				ExpertAnswer: opinion.Answer,
				Confidence:   opinion.Confidence,
			})
			continue
		}
		if !opinion.Confidence.AtLeast(s.policy.MinConfidence) {
			rejections = append(rejections, RejectionRecord{
				Question:     candidate,
				State:        StateExpertVerified,
				Reason:       fmt.Sprintf("expert confidence %s below threshold %s", opinion.Confidence, s.policy.MinConfidence),
				ExpertAnswer: opinion.Answer,
				Confidence:   opinion.Confidence,
			})
			continue
		}

		admitted = append(admitted, s.admit(candidate, opinion))
	}

	return admitted, rejections
}

// admit promotes a candidate whose claimed answer the expert independently
// confirmed at or above the confidence threshold.
func (s *PipelineService) admit(candidate models.CandidateQuestion, opinion *models.ExpertOpinion) models.AdmittedQuestion {
	q := models.AdmittedQuestion{
		QuestionText:    candidate.QuestionText,
		Options:         candidate.Options,
		CorrectAnswer:   candidate.CorrectAnswer,
		Explanation:     candidate.Explanation,
		Topic:           candidate.Topic,
		Difficulty:      candidate.Difficulty,
		IsActive:        true,
		ExpertValidated: true,
		ExpertValidationData: models.ExpertValidationData{
			ExpertAnswer: opinion.Answer,
			Confidence:   string(opinion.Confidence),
			Reasoning:    opinion.Reasoning,
			Citations:    opinion.Citations,
			Model:        s.expert.ModelName(),
			VerifiedAt:   time.Now().UTC(),
		},
	}
	if candidate.SubTopic != "" {
		q.SubTopic = &candidate.SubTopic
	}
	if candidate.LegalReference != "" {
		q.LegalReference = &candidate.LegalReference
	}
	return q
}

// VerifySingle validates a single hand-authored or externally-sourced
// question against an independent expert pass. The claimed answer is only
// compared after the expert has answered; it is never part of the prompt.
func (s *PipelineService) VerifySingle(ctx context.Context, questionText string, options models.Options, claimedAnswer string) (*VerifyResult, error) {
	if s.expert == nil {
		return nil, errors.New("expert solver not set")
	}

	claimed := models.NormalizeAnswerLabel(claimedAnswer)
	if !models.IsAnswerLabel(claimed) {
		return nil, fmt.Errorf("claimed answer %q is not one of A-E", claimedAnswer)
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	opinion, err := s.expert.Solve(ctx, questionText, options, 0)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Agrees:         opinion.Answer == claimed,
		ExpertAnswer:   opinion.Answer,
		Confidence:     opinion.Confidence,
		Reasoning:      opinion.Reasoning,
		MeetsThreshold: opinion.Confidence.AtLeast(s.policy.MinConfidence),
	}, nil
}

// CellRequest names one (topic, difficulty) cell and its admission target.
type CellRequest struct {
	Topic       string
	Difficulty  string
	TargetCount int
}

// CellResult pairs a cell request with its outcome.
type CellResult struct {
	Request CellRequest
	Report  *CellReport
	Err     error
}

// RunCells processes independent cells concurrently up to maxConcurrent.
// A failed cell never aborts the others; each result carries its own error.
func (s *PipelineService) RunCells(ctx context.Context, cells []CellRequest, maxConcurrent int) []CellResult {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	results := make([]CellResult, len(cells))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrent)
	for i, cell := range cells {
		g.Go(func() error {
			report, err := s.GenerateAndValidate(ctx, cell.Topic, cell.Difficulty, cell.TargetCount)
			results[i] = CellResult{Request: cell, Report: report, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProcessRun executes a previously-created generation run in the background,
// keeping the run row's status, steps and counts current. Mirrors the async
// job pattern used by the HTTP layer: create run, return id, poll.
func (s *PipelineService) ProcessRun(ctx context.Context, runID uuid.UUID) error {
	if s.runs == nil {
		return errors.New("generation run repository not set")
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("failed to load generation run: %w", err)
	}

	if err := s.runs.UpdateStatus(ctx, runID, models.RunStatusInProgress); err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	steps := run.Steps
	progress := func(step, status string) {
		for i := range steps {
			if steps[i].Name == step {
				steps[i].Status = status
				break
			}
		}
		if err := s.runs.UpdateProgress(ctx, runID, steps); err != nil {
			s.log.Warn("failed to update run progress", "run_id", runID, "error", err)
		}
	}

	report, err := s.generateAndValidate(ctx, run.Topic, run.Difficulty, run.TargetCount, progress)
	if err != nil {
		if failErr := s.runs.Fail(ctx, runID, err.Error()); failErr != nil {
			s.log.Error("failed to mark run failed", "run_id", runID, "error", failErr)
		}
		return err
	}

	if err := s.runs.UpdateCounts(ctx, runID, report.Generated, len(report.Admitted), report.Rejected, report.RegenRounds); err != nil {
		s.log.Warn("failed to update run counts", "run_id", runID, "error", err)
	}

	s.storeRejectionReport(ctx, runID, report)

	status := models.RunStatusCompleted
	if report.Shortfall {
		status = models.RunStatusShortfall
	}
	if err := s.runs.Complete(ctx, runID, status); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	return nil
}

// InitialRunSteps returns the step list a new generation run starts with.
func InitialRunSteps() models.RunSteps {
	return models.RunSteps{
		{Name: stepGenerate, Status: "pending"},
		{Name: stepVerify, Status: "pending"},
		{Name: stepPersist, Status: "pending"},
	}
}

func (s *PipelineService) storeRejectionReport(ctx context.Context, runID uuid.UUID, report *CellReport) {
	if s.reports == nil || len(report.Rejections) == 0 {
		return
	}

	payload, err := json.Marshal(report)
	if err != nil {
		s.log.Warn("failed to marshal rejection report", "run_id", runID, "error", err)
		return
	}

	if _, err := s.reports.PutReport(ctx, runID, bytes.NewReader(payload)); err != nil {
		s.log.Warn("failed to store rejection report", "run_id", runID, "error", err)
	}
}
