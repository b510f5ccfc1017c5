package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"ethicsprep-backend/logger"
	"ethicsprep-backend/models"
	"ethicsprep-backend/repository"
	"ethicsprep-backend/service"
	"ethicsprep-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QuestionHandler handles HTTP requests for question generation and the
// admitted question bank
type QuestionHandler struct {
	questionService *service.QuestionService
	pipeline        *service.PipelineService
	runs            *repository.GenerationRunRepository
	reports         storage.Storage
	log             *logger.Logger
}

// NewQuestionHandler creates a new question handler
func NewQuestionHandler(
	questionService *service.QuestionService,
	pipeline *service.PipelineService,
	runs *repository.GenerationRunRepository,
	reports storage.Storage,
	log *logger.Logger,
) *QuestionHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &QuestionHandler{
		questionService: questionService,
		pipeline:        pipeline,
		runs:            runs,
		reports:         reports,
		log:             log,
	}
}

// GenerateQuestionsRequest represents the request body for starting a
// generation run
type GenerateQuestionsRequest struct {
	Topic       string `json:"topic" binding:"required"`
	Difficulty  string `json:"difficulty" binding:"required"`
	TargetCount int    `json:"target_count" binding:"required"`
}

// GenerateQuestions handles POST /api/questions/generate
func (h *QuestionHandler) GenerateQuestions(c *gin.Context) {
	var req GenerateQuestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	switch req.Difficulty {
	case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_DIFFICULTY",
				"message": "difficulty must be one of easy, medium, hard",
			},
		})
		return
	}

	if req.TargetCount < 1 || req.TargetCount > 50 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_TARGET_COUNT",
				"message": "target_count must be between 1 and 50",
			},
		})
		return
	}

	run := &models.GenerationRun{
		Topic:       req.Topic,
		Difficulty:  req.Difficulty,
		TargetCount: req.TargetCount,
		Status:      models.RunStatusPending,
		Steps:       service.InitialRunSteps(),
	}
	if err := h.runs.Create(c.Request.Context(), run); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "CREATE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	// Process in the background on a fresh context so the run survives the
	// request. Clients poll /api/runs/:id.
	go func() {
		bgCtx := context.Background()
		if err := h.pipeline.ProcessRun(bgCtx, run.ID); err != nil {
			h.log.Error("generation run failed", "run_id", run.ID, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"run_id":  run.ID,
			"status":  models.RunStatusPending,
			"message": "Generation run created. Poll /api/runs/:id for updates.",
		},
	})
}

// GetRun handles GET /api/runs/:id
func (h *QuestionHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid run ID format",
			},
		})
		return
	}

	run, err := h.runs.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Generation run not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    run,
	})
}

// GetRunReport handles GET /api/runs/:id/report
func (h *QuestionHandler) GetRunReport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid run ID format",
			},
		})
		return
	}

	reader, err := h.reports.GetReport(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrReportNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "No rejection report for this run",
				},
			})
			return
		}
		h.log.Error("failed to fetch rejection report", "run_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "STORAGE_FAILED",
				"message": err.Error(),
			},
		})
		return
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// ListQuestions handles GET /api/questions
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	topic := c.Query("topic")
	difficulty := c.Query("difficulty")
	if topic == "" || difficulty == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "topic and difficulty query parameters are required",
			},
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_LIMIT",
					"message": "limit must be a positive integer",
				},
			})
			return
		}
		limit = parsed
	}

	questions, err := h.questionService.ListAdmitted(c.Request.Context(), topic, difficulty, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	count, err := h.questionService.CellCount(c.Request.Context(), topic, difficulty)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"questions":  questions,
			"cell_count": count,
		},
	})
}

// GetQuestion handles GET /api/questions/:id
func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_ID",
				"message": "Invalid question ID format",
			},
		})
		return
	}

	question, err := h.questionService.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrQuestionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Question not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "RETRIEVAL_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    question,
	})
}
