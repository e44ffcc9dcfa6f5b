package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/pkg/logger"
)

// outcome of one telemetry submission.
type outcome int

const (
	outcomeFailed outcome = iota
	outcomeAccepted
	outcomeDuplicate
	outcomeBackpressure
)

// client wraps http.Client for the few calls the simulator makes.
type client struct {
	base string
	http *http.Client
}

func newClient(cfg *Config) *client {
	return &client{base: cfg.BaseURL, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.http.Do(req)
}

func (c *client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// submit posts one sample and classifies the response.
func (c *client) submit(ctx context.Context, d model.RealTimeData) (outcome, error) { //nolint:gocritic // hugeParam: marshalled by value
	resp, err := c.postJSON(ctx, "/telemetry", d)
	if err != nil {
		return outcomeFailed, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return outcomeFailed, err
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		return outcomeAccepted, nil
	case http.StatusOK:
		var ack ackResponse
		if err := json.Unmarshal(body, &ack); err == nil && !ack.Duplicate {
			return outcomeAccepted, nil
		}
		return outcomeDuplicate, nil
	case http.StatusTooManyRequests:
		return outcomeBackpressure, nil
	default:
		return outcomeFailed, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
}

// submitAll fans samples out to cfg.Workers submitters.
func submitAll(ctx context.Context, cfg *Config, c *client, samples []model.RealTimeData, stats *Stats) {
	log := logger.Get().Named("simulate")
	log.Info(ctx, "submitting telemetry", logger.Int("samples", len(samples)), logger.Int("workers", cfg.Workers))

	var submitted, accepted, duplicate, backpressure, failed atomic.Int64

	ch := make(chan model.RealTimeData, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range ch {
				res, err := c.submit(ctx, d)
				submitted.Add(1)
				switch res {
				case outcomeAccepted:
					accepted.Add(1)
				case outcomeDuplicate:
					duplicate.Add(1)
				case outcomeBackpressure:
					backpressure.Add(1)
				default:
					failed.Add(1)
					if cfg.Verbose {
						log.Warn(ctx, "telemetry rejected", logger.String("event_id", d.EventID), logger.Error(err))
					}
				}
			}
		}()
	}

	func() {
		defer close(ch)
		for i := range samples {
			select {
			case <-ctx.Done():
				return
			case ch <- samples[i]:
			}
		}
	}()
	wg.Wait()

	stats.Submitted = int(submitted.Load())
	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Backpressure = int(backpressure.Load())
	stats.Failed = int(failed.Load())
}
