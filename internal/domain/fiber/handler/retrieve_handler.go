package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/pustakaid/pustaka-rag/internal/dto"
	"github.com/pustakaid/pustaka-rag/internal/usecase"
	"github.com/pustakaid/pustaka-rag/internal/util"
)

type RetrieveHandler struct {
	uc *usecase.RetrievalUsecase
}

func NewRetrieveHandler(uc *usecase.RetrievalUsecase) *RetrieveHandler {
	return &RetrieveHandler{uc: uc}
}

func (h *RetrieveHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/retrieve", h.Retrieve)
}

func (h *RetrieveHandler) Retrieve(c *fiber.Ctx) error {
	var req dto.RetrieveRequest
	if err := c.BodyParser(&req); err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "invalid request body",
		}, err)
	}

	result, err := h.uc.Retrieve(c.Context(), req.Query, req.K)
	if err != nil {
		if errors.Is(err, usecase.ErrEmptyQuery) {
			return util.ErrorResponse(c, util.ErrorResponseFormat{
				Code:    fiber.StatusBadRequest,
				Message: "query is required",
			}, err)
		}
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to retrieve context",
		}, err)
	}

	message := "Success retrieve context"
	if !result.Found {
		message = "No relevant context found"
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: message,
		Data:    result,
	})
}
