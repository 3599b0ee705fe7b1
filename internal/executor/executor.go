package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

// SignatureHeader carries the HMAC signature when the endpoint has a signing
// secret configured.
const SignatureHeader = "X-Webhook-Signature"

// Outcome is the classified result of one delivery attempt.
type Outcome struct {
	Success      bool
	Retryable    bool
	ResponseCode *int
	LatencyMs    int64
	// RetryAfter is the server-requested delay, zero when absent.
	RetryAfter time.Duration
	Err        error
}

// Executor performs the outbound HTTP call for queue-mode deliveries and
// drives the attempt state machine: every outcome is persisted before
// Execute returns.
type Executor struct {
	db     *gorm.DB
	logger *zap.Logger

	backoffBase time.Duration
	backoffCap  time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithBackoff overrides the retry backoff schedule.
func WithBackoff(base, cap time.Duration) Option {
	return func(e *Executor) {
		e.backoffBase = base
		e.backoffCap = cap
	}
}

func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		db:          db,
		logger:      logger,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute delivers the attempt's payload to the endpoint and persists the
// resulting state transition. A disabled endpoint is a non-retryable failure:
// the attempt moves straight to failed.
func (e *Executor) Execute(ctx context.Context, endpoint *models.Endpoint, attempt *models.DeliveryAttempt) (*Outcome, error) {
	var outcome *Outcome
	if !endpoint.Enabled {
		msg := "endpoint disabled"
		outcome = &Outcome{
			Success:   false,
			Retryable: false,
			Err:       errors.New(msg),
		}
	} else {
		outcome = e.deliver(ctx, endpoint, attempt)
	}

	if err := e.applyOutcome(ctx, endpoint, attempt, outcome); err != nil {
		return outcome, err
	}

	e.logOutcome(endpoint, attempt, outcome)
	return outcome, nil
}

// deliver performs the HTTP call and classifies the result. Timeouts and
// connection errors are retryable; so is any non-2xx response.
func (e *Executor) deliver(ctx context.Context, endpoint *models.Endpoint, attempt *models.DeliveryAttempt) *Outcome {
	outcome := &Outcome{}

	req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.URL, bytes.NewReader(attempt.Payload))
	if err != nil {
		outcome.Retryable = false
		outcome.Err = fmt.Errorf("failed to create HTTP request: %w", err)
		return outcome
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", attempt.ID.String())
	for key, value := range endpoint.Headers {
		req.Header.Set(key, value)
	}

	if secret, ok, err := e.signingSecret(ctx, endpoint); err != nil {
		e.logger.Warn("Failed to load signing secret",
			zap.String("endpoint_id", endpoint.ID.String()),
			zap.Error(err),
		)
	} else if ok {
		signature, err := SignPayload(attempt.Payload, secret)
		if err == nil {
			req.Header.Set(SignatureHeader, signature)
		}
	}

	client := &http.Client{
		Timeout: endpoint.Timeout(),
	}

	start := time.Now()
	resp, err := client.Do(req)
	outcome.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		// Timeout or connection error: transient.
		outcome.Retryable = true
		outcome.Err = fmt.Errorf("HTTP request failed: %w", err)
		return outcome
	}
	defer resp.Body.Close()

	outcome.ResponseCode = &resp.StatusCode

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		outcome.Success = true
		return outcome
	}

	summary := responseSummary(resp.Body)

	if retryAfter, ok := ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
		outcome.RetryAfter = retryAfter
	}

	outcome.Retryable = true
	if summary != "" {
		outcome.Err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, summary)
	} else {
		outcome.Err = fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return outcome
}

// maxResponseSummaryBytes caps how much of a failure response is kept in
// last_error for triage.
const maxResponseSummaryBytes = 512

// responseSummary reads a capped summary of the response body and drains the
// remainder.
func responseSummary(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxResponseSummaryBytes))
	io.Copy(io.Discard, body)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func (e *Executor) signingSecret(ctx context.Context, endpoint *models.Endpoint) (string, bool, error) {
	var secret models.Secret
	err := e.db.WithContext(ctx).
		Where("endpoint_id = ? AND name = ?", endpoint.ID, models.SigningSecretName).
		First(&secret).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return secret.Value, true, nil
}

// applyOutcome persists the state transition for the attempt:
//   - success                          -> success (terminal)
//   - retryable failure, budget left   -> retrying with backoff
//   - retryable failure, budget spent  -> failed (terminal)
//   - non-retryable failure            -> failed (terminal)
//
// attempt is updated in place to mirror the persisted row.
func (e *Executor) applyOutcome(ctx context.Context, endpoint *models.Endpoint, attempt *models.DeliveryAttempt, outcome *Outcome) error {
	now := time.Now().UTC()

	updates := map[string]interface{}{
		"latency_ms": outcome.LatencyMs,
		"claimed_at": nil,
	}
	attempt.LatencyMs = &outcome.LatencyMs
	attempt.ClaimedAt = nil
	if outcome.ResponseCode != nil {
		updates["response_code"] = *outcome.ResponseCode
		attempt.ResponseCode = outcome.ResponseCode
	}

	switch {
	case outcome.Success:
		updates["status"] = models.StatusSuccess
		updates["next_retry_at"] = nil
		updates["completed_at"] = now
		attempt.Status = models.StatusSuccess
		attempt.NextRetryAt = nil
		attempt.CompletedAt = &now

	case outcome.Retryable && attempt.RetryCount < endpoint.MaxRetryCount:
		delay := BackoffDelay(attempt.RetryCount, e.backoffBase, e.backoffCap)
		if outcome.RetryAfter > delay {
			delay = outcome.RetryAfter
			if delay > e.backoffCap {
				delay = e.backoffCap
			}
		}
		nextRetry := now.Add(delay)
		errMsg := outcome.Err.Error()

		updates["status"] = models.StatusRetrying
		updates["next_retry_at"] = nextRetry
		updates["last_error"] = errMsg
		attempt.Status = models.StatusRetrying
		attempt.NextRetryAt = &nextRetry
		attempt.LastError = &errMsg

	default:
		errMsg := "delivery failed"
		if outcome.Err != nil {
			errMsg = outcome.Err.Error()
		}
		if outcome.Retryable {
			errMsg = fmt.Sprintf("max attempts reached: %s", errMsg)
		}

		updates["status"] = models.StatusFailed
		updates["next_retry_at"] = nil
		updates["last_error"] = errMsg
		updates["completed_at"] = now
		attempt.Status = models.StatusFailed
		attempt.NextRetryAt = nil
		attempt.LastError = &errMsg
		attempt.CompletedAt = &now
	}

	err := e.db.WithContext(ctx).Model(&models.DeliveryAttempt{}).
		Where("id = ?", attempt.ID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to persist delivery outcome: %w", err)
	}
	return nil
}

func (e *Executor) logOutcome(endpoint *models.Endpoint, attempt *models.DeliveryAttempt, outcome *Outcome) {
	switch attempt.Status {
	case models.StatusSuccess:
		e.logger.Info("Webhook delivery succeeded",
			zap.String("call_id", attempt.ID.String()),
			zap.String("endpoint", endpoint.Name),
			zap.Int("retry_count", attempt.RetryCount),
			zap.Int64("latency_ms", outcome.LatencyMs),
		)
	case models.StatusFailed:
		e.logger.Warn("Webhook delivery failed",
			zap.String("call_id", attempt.ID.String()),
			zap.String("endpoint", endpoint.Name),
			zap.Int("retry_count", attempt.RetryCount),
			zap.Stringp("last_error", attempt.LastError),
		)
	default:
		e.logger.Info("Webhook delivery will be retried",
			zap.String("call_id", attempt.ID.String()),
			zap.String("endpoint", endpoint.Name),
			zap.Int("retry_count", attempt.RetryCount),
			zap.Timep("next_retry_at", attempt.NextRetryAt),
			zap.Stringp("last_error", attempt.LastError),
		)
	}
}
