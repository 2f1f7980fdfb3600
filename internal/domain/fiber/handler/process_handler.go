package handler

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pustakaid/pustaka-rag/internal/config"
	"github.com/pustakaid/pustaka-rag/internal/dto"
	"github.com/pustakaid/pustaka-rag/internal/extract"
	"github.com/pustakaid/pustaka-rag/internal/middleware"
	"github.com/pustakaid/pustaka-rag/internal/model"
	"github.com/pustakaid/pustaka-rag/internal/response"
	"github.com/pustakaid/pustaka-rag/internal/usecase"
	"github.com/pustakaid/pustaka-rag/internal/util"
)

const maxUploadSize = 20 * 1024 * 1024

type ProcessHandler struct {
	uc *usecase.IngestionUsecase
}

func NewProcessHandler(uc *usecase.IngestionUsecase) *ProcessHandler {
	return &ProcessHandler{uc: uc}
}

func (h *ProcessHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/process/document", middleware.RateLimiter(10, 1*time.Minute), h.SubmitDocument)
	app.Get("/process/job/:id", h.JobStatus)
	app.Post("/process/retry/:id", h.RetryJob)
	app.Delete("/process/job/:id", h.CancelJob)
	app.Get("/process/jobs", h.ListJobs)
	app.Get("/process/metrics", h.Metrics)
	app.Get("/process/documents", h.ListDocuments)
	app.Delete("/process/document/:id", h.DeleteDocument)
}

func (h *ProcessHandler) SubmitDocument(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "file is required",
		}, err)
	}
	if file.Size > maxUploadSize {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusRequestEntityTooLarge,
			Message: "file size is too large (max 20MB)",
		}, nil)
	}

	// Save under a unique name so concurrent uploads of the same filename
	// never clobber each other.
	uploadDir := config.LoadPipelineConfig().UploadDir
	savePath := filepath.Join(uploadDir, fmt.Sprintf("%s-%s", uuid.NewString(), filepath.Base(file.Filename)))
	if err := c.SaveFile(file, savePath); err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "cannot save uploaded file",
		}, err)
	}

	job, err := h.uc.Submit(usecase.SubmitRequest{
		Filename:   file.Filename,
		Title:      c.FormValue("title"),
		Authors:    c.FormValue("authors"),
		DocType:    c.FormValue("doc_type"),
		WebhookURL: c.FormValue("webhook_url"),
		SourcePath: savePath,
	})
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return util.ErrorResponse(c, util.ErrorResponseFormat{
				Code:    fiber.StatusUnprocessableEntity,
				Message: "unsupported file type",
			}, err)
		}
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to submit document",
		}, err)
	}

	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusAccepted,
		Message: "Success submit document",
		Data:    fiber.Map{"job_id": job.ID, "stage": job.Stage},
	})
}

func (h *ProcessHandler) JobStatus(c *fiber.Ctx) error {
	job, err := h.uc.GetJob(c.Params("id"))
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusNotFound,
			Message: "job not found",
		}, nil)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success get job status",
		Data:    jobToDTO(job),
	})
}

func (h *ProcessHandler) RetryJob(c *fiber.Ctx) error {
	job, err := h.uc.Retry(c.Params("id"))
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotRetryable) {
			return util.ErrorResponse(c, util.ErrorResponseFormat{
				Code:    fiber.StatusConflict,
				Message: "only failed jobs can be retried",
			}, err)
		}
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusNotFound,
			Message: "job not found",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Code:    fiber.StatusAccepted,
		Message: "Success retry job",
		Data:    jobToDTO(job),
	})
}

func (h *ProcessHandler) CancelJob(c *fiber.Ctx) error {
	cancelled, err := h.uc.Cancel(c.Params("id"))
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusNotFound,
			Message: "job not found",
		}, err)
	}
	message := "Job cancellation requested"
	if !cancelled {
		message = "Job already finished, nothing to cancel"
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: message,
		Data:    fiber.Map{"cancelled": cancelled},
	})
}

func (h *ProcessHandler) ListJobs(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := c.QueryInt("page_size", 20)
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	stage := model.JobStage(c.Query("stage"))
	if stage != "" && !stage.Valid() {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Code:    fiber.StatusBadRequest,
			Message: "unknown stage filter",
		}, nil)
	}

	jobs, total, err := h.uc.ListJobs(stage, page, pageSize)
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to list jobs",
		}, err)
	}

	items := make([]dto.ProcessingJobDTO, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobToDTO(&jobs[i]))
	}

	totalPages := total / int64(pageSize)
	if total%int64(pageSize) != 0 {
		totalPages++
	}
	from := (page-1)*pageSize + 1
	if len(items) == 0 {
		from = 0
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success list jobs",
		Data:    items,
		Pagination: &response.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalPages: totalPages,
			TotalItems: total,
			HasMore:    int64(page) < totalPages,
			From:       from,
			To:         from + len(items) - 1,
		},
	})
}

func (h *ProcessHandler) Metrics(c *fiber.Ctx) error {
	metrics, err := h.uc.Metrics()
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to collect metrics",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success get metrics",
		Data:    metrics,
	})
}

func (h *ProcessHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.uc.ListDocuments()
	if err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to list documents",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success list documents",
		Data:    docs,
	})
}

func (h *ProcessHandler) DeleteDocument(c *fiber.Ctx) error {
	if err := h.uc.DeleteDocumentChunks(c.Params("id")); err != nil {
		return util.ErrorResponse(c, util.ErrorResponseFormat{
			Message: "failed to delete document chunks",
		}, err)
	}
	return util.SuccessResponse(c, util.SuccessResponseFormat{
		Message: "Success delete document chunks",
	})
}

func jobToDTO(job *model.ProcessingJob) dto.ProcessingJobDTO {
	return dto.ProcessingJobDTO{
		ID:           job.ID,
		DocumentID:   job.DocumentID,
		Stage:        string(job.Stage),
		Progress:     job.Progress,
		RetryCount:   job.RetryCount,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		CompletedAt:  job.CompletedAt,
	}
}
