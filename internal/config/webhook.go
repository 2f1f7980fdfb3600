package config

import (
	"sync"
	"time"
)

type WebhookConfig struct {
	Timeout time.Duration
}

var (
	webhookConfig *WebhookConfig
	webhookOnce   sync.Once
)

func LoadWebhookConfig() *WebhookConfig {
	webhookOnce.Do(func() {
		webhookConfig = &WebhookConfig{
			Timeout: envDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		}
	})
	return webhookConfig
}
