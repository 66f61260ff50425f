package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/receiptsearch/internal/config"
)

// Client enqueues pipeline jobs. The queue delivers at least once under a
// visibility lease; retry budget and lease duration come from the pipeline
// config so the DLQ boundary is a single knob.
type Client struct {
	client      *asynq.Client
	maxAttempts int
	lease       time.Duration
}

func NewClient(rcfg config.RedisConfig, pcfg config.PipelineConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     rcfg.Addr,
			Password: rcfg.Password,
			DB:       rcfg.DB,
		}),
		maxAttempts: pcfg.MaxAttempts,
		lease:       pcfg.LeaseDuration,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueExtraction schedules OCR extraction for a receipt. MaxRetry is the
// redelivery budget before the job lands in the archived (dead-letter) set.
func (c *Client) EnqueueExtraction(payload ExtractPayload) error {
	return c.enqueue(TypeReceiptExtract, payload,
		asynq.MaxRetry(c.maxAttempts-1),
		asynq.Timeout(c.lease),
	)
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.Enqueue(task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
