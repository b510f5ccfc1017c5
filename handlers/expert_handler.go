package handlers

import (
	"errors"
	"net/http"

	"ethicsprep-backend/logger"
	"ethicsprep-backend/models"
	"ethicsprep-backend/service"

	"github.com/gin-gonic/gin"
)

// ExpertHandler exposes the independent expert: free-form answers and
// standalone verification of externally-sourced questions
type ExpertHandler struct {
	expert   *service.ExpertService
	pipeline *service.PipelineService
	log      *logger.Logger
}

// NewExpertHandler creates a new expert handler
func NewExpertHandler(expert *service.ExpertService, pipeline *service.PipelineService, log *logger.Logger) *ExpertHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &ExpertHandler{
		expert:   expert,
		pipeline: pipeline,
		log:      log,
	}
}

// AnswerRequest represents the request body for a free-form expert answer
type AnswerRequest struct {
	Question string `json:"question" binding:"required"`
	ContextK int    `json:"context_k"`
}

// Answer handles POST /api/expert/answer
func (h *ExpertHandler) Answer(c *gin.Context) {
	var req AnswerRequest
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

	answer, err := h.expert.Answer(c.Request.Context(), req.Question, req.ContextK)
	if err != nil {
		var failure *service.ReasoningFailure
		if errors.As(err, &failure) {
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "REASONING_FAILED",
					"message": failure.Reason,
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "ANSWER_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    answer,
	})
}

// VerifyRequest represents the request body for standalone verification
type VerifyRequest struct {
	QuestionText  string         `json:"question_text" binding:"required"`
	Options       models.Options `json:"options" binding:"required"`
	ClaimedAnswer string         `json:"claimed_answer" binding:"required"`
}

// Verify handles POST /api/questions/verify
func (h *ExpertHandler) Verify(c *gin.Context) {
	var req VerifyRequest
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

	result, err := h.pipeline.VerifySingle(c.Request.Context(), req.QuestionText, req.Options, req.ClaimedAnswer)
	if err != nil {
		var failure *service.ReasoningFailure
		if errors.As(err, &failure) {
			c.JSON(http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "REASONING_FAILED",
					"message": failure.Reason,
				},
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_QUESTION",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}
