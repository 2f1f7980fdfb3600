package service

import (
	"log"

	"github.com/go-resty/resty/v2"

	"github.com/pustakaid/pustaka-rag/internal/config"
)

// WebhookPayload is the event body posted on every job stage transition.
type WebhookPayload struct {
	Event       string `json:"event"` // processing.started|progress|completed|failed
	JobID       string `json:"job_id"`
	DocumentRef string `json:"document_ref"`
	Stage       string `json:"stage"`
	Progress    int    `json:"progress"`
	Timestamp   string `json:"timestamp"` // ISO-8601
}

type WebhookNotifierInterface interface {
	Notify(url string, payload WebhookPayload)
}

// WebhookService delivers stage events best-effort. Delivery failures are
// logged and swallowed; they must never affect job state.
type WebhookService struct {
	client *resty.Client
}

func NewWebhookService() *WebhookService {
	client := resty.New().SetTimeout(config.LoadWebhookConfig().Timeout)
	return &WebhookService{client: client}
}

func (s *WebhookService) Notify(url string, payload WebhookPayload) {
	if url == "" {
		return
	}
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		log.Printf("webhook delivery failed for job %s: %v", payload.JobID, err)
		return
	}
	if resp.IsError() {
		log.Printf("webhook delivery for job %s returned %d", payload.JobID, resp.StatusCode())
	}
}
