package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"telehealth-server/internal/advice"
	"telehealth-server/internal/utils"
)

// AdviceHandler serves the assistant prompts.
type AdviceHandler struct {
	Service *advice.Service
}

// NewAdviceHandler creates a new AdviceHandler.
func NewAdviceHandler(svc *advice.Service) *AdviceHandler {
	return &AdviceHandler{Service: svc}
}

// AdviceRequest carries the user's prompt.
type AdviceRequest struct {
	Text string `json:"text"`
}

// Respond answers POST /ai/:kind.
func (h *AdviceHandler) Respond(c *gin.Context) {
	var req AdviceRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	answer, err := h.Service.Respond(advice.Kind(c.Param("kind")), req.Text)
	switch {
	case errors.Is(err, advice.ErrUnknownKind):
		utils.NotFound(c, err.Error())
		return
	case errors.Is(err, advice.ErrEmptyPrompt):
		utils.BadRequest(c, err.Error())
		return
	case err != nil:
		utils.InternalServerError(c, err.Error())
		return
	}

	utils.Success(c, "Response generated", answer)
}
