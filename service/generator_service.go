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
	// generatorTemperature is deliberately higher than the expert's:
	// generation benefits from lexical variety, verification does not.
	generatorTemperature = 0.85

	// defaultContextChunks is how many chunks ground a generation batch.
	// Broader than typical RAG use: the generator needs coverage of the
	// topic, not narrow precision.
	defaultContextChunks = 12

	// defaultExemplars is how many reference questions style one batch.
	defaultExemplars = 4

	// defaultScenarioRatio is the target share of scenario-style questions
	// (the rest are definition-style).
	defaultScenarioRatio = 0.6

	// generationMinSimilarity relaxes the retrieval floor for generation.
	generationMinSimilarity = 0.25
)

var (
	ErrGenerationFailed = errors.New("failed to generate questions")
)

// GeneratorConfig tunes one generator instance.
type GeneratorConfig struct {
	ContextChunks int
	Exemplars     int
	ScenarioRatio float64
	Temperature   float64
}

// DefaultGeneratorConfig returns the standard generation tuning.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		ContextChunks: defaultContextChunks,
		Exemplars:     defaultExemplars,
		ScenarioRatio: defaultScenarioRatio,
		Temperature:   generatorTemperature,
	}
}

// ParseResult is the outcome of parsing one generated item: either a
// structurally valid candidate or a rejection reason, never a
// partially-populated question.
type ParseResult struct {
	Candidate *models.CandidateQuestion
	Invalid   string
}

// Valid reports whether the item parsed into a well-formed candidate.
func (r ParseResult) Valid() bool {
	return r.Candidate != nil && r.Invalid == ""
}

// ExemplarProvider supplies reference questions as style exemplars.
type ExemplarProvider interface {
	Exemplars(ctx context.Context, topic, difficulty string, k int) ([]models.ReferenceQuestion, error)
}

// GeneratorService produces batches of candidate exam questions grounded in
// retrieved legal context and styled after reference questions.
type GeneratorService struct {
	completer provider.CompletionProvider
	retrieval ContextRetriever
	exemplars ExemplarProvider
	log       *logger.Logger
	config    GeneratorConfig
}

// GeneratorServiceOption is a functional option for GeneratorService
type GeneratorServiceOption func(*GeneratorService)

// GeneratorWithCompleter sets the completion provider
func GeneratorWithCompleter(completer provider.CompletionProvider) GeneratorServiceOption {
	return func(s *GeneratorService) {
		s.completer = completer
	}
}

// GeneratorWithRetrieval sets the legal context retriever
func GeneratorWithRetrieval(retrieval ContextRetriever) GeneratorServiceOption {
	return func(s *GeneratorService) {
		s.retrieval = retrieval
	}
}

// GeneratorWithExemplars sets the reference question provider
func GeneratorWithExemplars(exemplars ExemplarProvider) GeneratorServiceOption {
	return func(s *GeneratorService) {
		s.exemplars = exemplars
	}
}

// GeneratorWithLogger sets the logger
func GeneratorWithLogger(log *logger.Logger) GeneratorServiceOption {
	return func(s *GeneratorService) {
		s.log = log
	}
}

// GeneratorWithConfig overrides the generation tuning
func GeneratorWithConfig(cfg GeneratorConfig) GeneratorServiceOption {
	return func(s *GeneratorService) {
		s.config = cfg
	}
}

// NewGeneratorService creates a new question generator
func NewGeneratorService(opts ...GeneratorServiceOption) *GeneratorService {
	s := &GeneratorService{config: DefaultGeneratorConfig()}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// Generate produces up to count structurally valid candidate questions for
// the given topic and difficulty. Items that fail structural validation are
// discarded, not errored, so the result may be shorter than count. A provider
// failure for the whole batch is returned as an error.
func (s *GeneratorService) Generate(ctx context.Context, topic, difficulty string, count int) ([]models.CandidateQuestion, error) {
	if s.completer == nil {
		return nil, errors.New("completion provider not set")
	}
	if s.retrieval == nil {
		return nil, errors.New("retrieval service not set")
	}
	if count <= 0 {
		return nil, nil
	}

	// Broad retrieval with a relaxed floor. Empty context is valid input:
	// a topic with no matching chunks still produces a batch.
	floor := generationMinSimilarity
	chunks, err := s.retrieval.Retrieve(ctx, topic, s.config.ContextChunks, RetrieveOptions{
		MinSimilarity: &floor,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: context retrieval: %v", ErrGenerationFailed, err)
	}
	if len(chunks) == 0 {
		s.log.Warn("no legal context retrieved, generating without grounding", "topic", topic)
	}

	var references []models.ReferenceQuestion
	if s.exemplars != nil {
		references, err = s.exemplars.Exemplars(ctx, topic, difficulty, s.config.Exemplars)
		if err != nil {
			s.log.Warn("failed to retrieve reference exemplars, continuing without", "topic", topic, "error", err)
			references = nil
		}
	}

	prompt := s.buildGenerationPrompt(topic, difficulty, count, chunks, references)

	raw, err := s.completer.Complete(ctx, prompt, s.config.Temperature, provider.ModeThinking)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	results := parseCandidates(raw, topic, difficulty)

	candidates := make([]models.CandidateQuestion, 0, count)
	for _, result := range results {
		if !result.Valid() {
			s.log.Debug("discarding malformed candidate", "topic", topic, "reason", result.Invalid)
			continue
		}
		candidates = append(candidates, *result.Candidate)
	}

	s.log.Info("generation batch parsed",
		"topic", topic,
		"difficulty", difficulty,
		"requested", count,
		"returned", len(results),
		"valid", len(candidates),
	)

	return candidates, nil
}

func (s *GeneratorService) buildGenerationPrompt(topic, difficulty string, count int, chunks []models.Chunk, references []models.ReferenceQuestion) string {
	scenarioCount := int(float64(count)*s.config.ScenarioRatio + 0.5)
	definitionCount := count - scenarioCount

	var refText strings.Builder
	if len(references) == 0 {
		refText.WriteString("(no reference questions available)\n")
	}
	for i, ref := range references {
		refText.WriteString(fmt.Sprintf("Example %d (%s / %s):\n%s\n", i+1, ref.Topic, ref.Difficulty, ref.QuestionText))
		for _, label := range models.OptionLabels {
			refText.WriteString(fmt.Sprintf("%s) %s\n", label, ref.Options.Get(label)))
		}
		refText.WriteString("\n")
	}

	return fmt.Sprintf(`You are an exam author writing multiple-choice questions for the Israeli securities-ethics certification exam.

LEGAL CONTEXT:
%s

REFERENCE QUESTIONS (style exemplars only - do not copy their content):
%s
TASK:
Write exactly %d new questions on the topic "%s" at difficulty "%s". Aim for %d scenario-style questions (a short realistic case followed by a question) and %d definition-style questions (direct questions about rules and terms).

REQUIREMENTS:
- Write all question text, options and explanations in Hebrew
- Every question must have exactly five distinct options labeled A-E
- Exactly one option is correct
- Ground every explanation in the legal context above and name the legal source when possible
- Use fictional person and company names only (e.g. "חברת אלמוגים בע\"מ"); never real entities
- Do not reuse or translate the reference questions

Respond with a single JSON array and nothing else. Each element:
{"question_text": "...", "options": {"A": "...", "B": "...", "C": "...", "D": "...", "E": "..."}, "correct_answer": "A", "explanation": "...", "sub_topic": "...", "legal_reference": "..."}`,
		formatContext(chunks),
		refText.String(),
		count,
		topic,
		difficulty,
		scenarioCount,
		definitionCount,
	)
}

// parseCandidates parses the raw model output into per-item results. Each
// item either becomes a fully-validated candidate or carries its rejection
// reason.
func parseCandidates(raw, topic, difficulty string) []ParseResult {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(extractJSON(raw)), &items); err != nil {
		return []ParseResult{{Invalid: fmt.Sprintf("response is not a JSON array: %v", err)}}
	}

	results := make([]ParseResult, 0, len(items))
	for i, item := range items {
		var parsed struct {
			QuestionText   string         `json:"question_text"`
			Options        models.Options `json:"options"`
			CorrectAnswer  string         `json:"correct_answer"`
			Explanation    string         `json:"explanation"`
			SubTopic       string         `json:"sub_topic"`
			LegalReference string         `json:"legal_reference"`
		}
		if err := json.Unmarshal(item, &parsed); err != nil {
			results = append(results, ParseResult{Invalid: fmt.Sprintf("item %d: malformed JSON: %v", i, err)})
			continue
		}

		candidate := models.CandidateQuestion{
			QuestionText:   strings.TrimSpace(parsed.QuestionText),
			Options:        parsed.Options,
			CorrectAnswer:  models.NormalizeAnswerLabel(parsed.CorrectAnswer),
			Explanation:    strings.TrimSpace(parsed.Explanation),
			Topic:          topic,
			SubTopic:       strings.TrimSpace(parsed.SubTopic),
			Difficulty:     difficulty,
			LegalReference: strings.TrimSpace(parsed.LegalReference),
		}

		if err := candidate.Validate(); err != nil {
			results = append(results, ParseResult{Invalid: fmt.Sprintf("item %d: %v", i, err)})
			continue
		}

		results = append(results, ParseResult{Candidate: &candidate})
	}

	return results
}
