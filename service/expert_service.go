package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ethicsprep-backend/logger"
	"ethicsprep-backend/models"
	"ethicsprep-backend/provider"
)

const (
	// expertTemperature keeps verification near-deterministic. Generation
	// wants lexical variety; verification does not.
	expertTemperature = 0.1

	// defaultExpertContextK is how many chunks ground one expert pass.
	defaultExpertContextK = 6

	expertModelName = "gemini-2.5-flash"
)

// ReasoningFailure reports a failed or unparseable expert pass. It is
// retryable from the caller's perspective; the expert itself never retries.
type ReasoningFailure struct {
	Reason string
	Err    error
}

func (e *ReasoningFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reasoning failure: %s: %v", e.Reason, e.Err)
	}
	return "reasoning failure: " + e.Reason
}

func (e *ReasoningFailure) Unwrap() error {
	return e.Err
}

// ContextRetriever supplies grounding passages for the expert.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int, opts RetrieveOptions) ([]models.Chunk, error)
}

// ExpertService independently answers legal questions and re-derives answers
// to multiple-choice questions, grounded in retrieved context. Solve is a
// function of the question stem and options only; the candidate's claimed
// answer is never an input on this path.
type ExpertService struct {
	completer provider.CompletionProvider
	retrieval ContextRetriever
	log       *logger.Logger
	contextK  int
}

// ExpertServiceOption is a functional option for ExpertService
type ExpertServiceOption func(*ExpertService)

// ExpertWithCompleter sets the completion provider
func ExpertWithCompleter(completer provider.CompletionProvider) ExpertServiceOption {
	return func(s *ExpertService) {
		s.completer = completer
	}
}

// ExpertWithRetrieval sets the legal context retriever
func ExpertWithRetrieval(retrieval ContextRetriever) ExpertServiceOption {
	return func(s *ExpertService) {
		s.retrieval = retrieval
	}
}

// ExpertWithLogger sets the logger
func ExpertWithLogger(log *logger.Logger) ExpertServiceOption {
	return func(s *ExpertService) {
		s.log = log
	}
}

// ExpertWithContextK overrides how many chunks ground each pass
func ExpertWithContextK(k int) ExpertServiceOption {
	return func(s *ExpertService) {
		s.contextK = k
	}
}

// NewExpertService creates a new expert service
func NewExpertService(opts ...ExpertServiceOption) *ExpertService {
	s := &ExpertService{contextK: defaultExpertContextK}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// Answer answers a free-form legal question from retrieved context only.
func (s *ExpertService) Answer(ctx context.Context, query string, k int) (*models.ExpertAnswer, error) {
	if s.completer == nil {
		return nil, errors.New("completion provider not set")
	}
	if s.retrieval == nil {
		return nil, errors.New("retrieval service not set")
	}
	if k <= 0 {
		k = s.contextK
	}

	chunks, err := s.retrieval.Retrieve(ctx, query, k, RetrieveOptions{})
	if err != nil {
		return nil, &ReasoningFailure{Reason: "context retrieval failed", Err: err}
	}

	prompt := buildAnswerPrompt(query, chunks)

	raw, err := s.completer.Complete(ctx, prompt, expertTemperature, provider.ModeStandard)
	if err != nil {
		return nil, &ReasoningFailure{Reason: "completion failed", Err: err}
	}

	var parsed struct {
		AnswerText string   `json:"answer_text"`
		Confidence string   `json:"confidence"`
		Citations  []string `json:"citations"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, &ReasoningFailure{Reason: "unparseable answer response", Err: err}
	}
	if strings.TrimSpace(parsed.AnswerText) == "" {
		return nil, &ReasoningFailure{Reason: "empty answer text"}
	}

	return &models.ExpertAnswer{
		AnswerText: parsed.AnswerText,
		Confidence: models.ParseConfidence(parsed.Confidence),
		Citations:  parsed.Citations,
	}, nil
}

// Solve independently derives the answer to a multiple-choice question. It
// retrieves its own supporting context from the question stem and reasons to
// a choice from scratch.
func (s *ExpertService) Solve(ctx context.Context, questionText string, options models.Options, k int) (*models.ExpertOpinion, error) {
	if s.completer == nil {
		return nil, errors.New("completion provider not set")
	}
	if s.retrieval == nil {
		return nil, errors.New("retrieval service not set")
	}
	if k <= 0 {
		k = s.contextK
	}

	chunks, err := s.retrieval.Retrieve(ctx, questionText, k, RetrieveOptions{})
	if err != nil {
		return nil, &ReasoningFailure{Reason: "context retrieval failed", Err: err}
	}

	prompt := buildSolvePrompt(questionText, options, chunks)

	raw, err := s.completer.Complete(ctx, prompt, expertTemperature, provider.ModeStandard)
	if err != nil {
		return nil, &ReasoningFailure{Reason: "completion failed", Err: err}
	}

	var parsed struct {
		Answer     string `json:"answer"`
		Confidence string `json:"confidence"`
		Reasoning  string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, &ReasoningFailure{Reason: "unparseable verification response", Err: err}
	}

	answer := models.NormalizeAnswerLabel(parsed.Answer)
	if !models.IsAnswerLabel(answer) {
		return nil, &ReasoningFailure{Reason: fmt.Sprintf("answer %q is not one of A-E", parsed.Answer)}
	}

	citations := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		citations = append(citations, chunk.Citation())
	}

	return &models.ExpertOpinion{
		Answer:     answer,
		Confidence: models.ParseConfidence(parsed.Confidence),
		Reasoning:  parsed.Reasoning,
		Citations:  citations,
	}, nil
}

// ModelName identifies the underlying model for audit records.
func (s *ExpertService) ModelName() string {
	return expertModelName
}

func formatContext(chunks []models.Chunk) string {
	if len(chunks) == 0 {
		return "(no legal context retrieved)"
	}
	var builder strings.Builder
	for i, chunk := range chunks {
		builder.WriteString(fmt.Sprintf("[%d] (%s)\n%s\n\n", i+1, chunk.Citation(), chunk.Content))
	}
	return builder.String()
}

func buildAnswerPrompt(query string, chunks []models.Chunk) string {
	return fmt.Sprintf(`You are a senior Israeli securities-law expert answering a question for a certification exam study assistant.

LEGAL CONTEXT:
%s

QUESTION:
%s

TASK:
Answer the question using ONLY the legal context above. If the context does not cover the question, say so and lower your confidence. Cite the numbered context passages you relied on.

Respond with a single JSON object and nothing else:
{"answer_text": "<your answer in Hebrew>", "confidence": "high|medium|low", "citations": ["<source references>"]}`,
		formatContext(chunks),
		query,
	)
}

func buildSolvePrompt(questionText string, options models.Options, chunks []models.Chunk) string {
	var optionsText strings.Builder
	for _, label := range models.OptionLabels {
		optionsText.WriteString(fmt.Sprintf("%s) %s\n", label, options.Get(label)))
	}

	return fmt.Sprintf(`You are a senior Israeli securities-law expert solving a multiple-choice exam question.

LEGAL CONTEXT:
%s

QUESTION:
%s

OPTIONS:
%s
TASK:
Choose the single best answer. Reason from the legal context above; if the context is insufficient, reason from established securities law and lower your confidence. Exactly one option is correct.

Respond with a single JSON object and nothing else:
{"answer": "<A|B|C|D|E>", "confidence": "high|medium|low", "reasoning": "<short justification in Hebrew>"}`,
		formatContext(chunks),
		questionText,
		optionsText.String(),
	)
}

// extractJSON strips markdown fences and surrounding prose from a model
// response, returning the first JSON object or array found.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
	}

	objStart := strings.IndexAny(raw, "{[")
	if objStart < 0 {
		return raw
	}

	open := raw[objStart]
	var closer byte = '}'
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := objStart; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case open:
			if !inString {
				depth++
			}
		case closer:
			if !inString {
				depth--
				if depth == 0 {
					return raw[objStart : i+1]
				}
			}
		}
	}

	return raw[objStart:]
}
