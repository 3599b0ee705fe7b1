package executor

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/database"
	"github.com/KSD-CO/rule-engine-postgres-sub004/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db, nil))
	return db
}

func makeEndpoint(t *testing.T, db *gorm.DB, url string) *models.Endpoint {
	t.Helper()
	now := time.Now().UTC()
	endpoint := &models.Endpoint{
		ID:            uuid.New(),
		Name:          "test-" + uuid.NewString()[:8],
		URL:           url,
		Method:        "POST",
		TimeoutMs:     5000,
		MaxRetryCount: 3,
		Enabled:       true,
		TransportMode: models.TransportQueue,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, db.Create(endpoint).Error)
	return endpoint
}

func makeAttempt(t *testing.T, db *gorm.DB, endpointID uuid.UUID, retryCount int) *models.DeliveryAttempt {
	t.Helper()
	now := time.Now().UTC()
	attempt := &models.DeliveryAttempt{
		ID:          uuid.New(),
		EndpointID:  endpointID,
		Payload:     []byte(`{"event":"created"}`),
		Status:      models.StatusPending,
		RetryCount:  retryCount,
		ScheduledAt: now,
		CreatedAt:   now,
	}
	require.NoError(t, db.Create(attempt).Error)
	return attempt
}

func reloadAttempt(t *testing.T, db *gorm.DB, id uuid.UUID) *models.DeliveryAttempt {
	t.Helper()
	var attempt models.DeliveryAttempt
	require.NoError(t, db.Where("id = ?", id).First(&attempt).Error)
	return &attempt
}

func TestExecuteSuccess(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	outcome, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.True(t, outcome.Success)
	require.NotNil(t, outcome.ResponseCode)
	assert.Equal(t, http.StatusOK, *outcome.ResponseCode)

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.Nil(t, stored.NextRetryAt)
	assert.Nil(t, stored.ClaimedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.NotNil(t, stored.LatencyMs)
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusOK, *stored.ResponseCode)
}

func TestExecuteServerErrorSchedulesRetry(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	before := time.Now().UTC()
	exec := New(db, zap.NewNop(), WithBackoff(time.Minute, time.Hour))
	outcome, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.True(t, outcome.Retryable)

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusRetrying, stored.Status)
	require.NotNil(t, stored.NextRetryAt)
	// First retry is due one backoff base after the failure
	assert.WithinDuration(t, before.Add(time.Minute), *stored.NextRetryAt, 5*time.Second)
	assert.Nil(t, stored.ClaimedAt)
	assert.Nil(t, stored.CompletedAt)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "HTTP 500")
}

func TestExecuteBudgetExhausted(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, endpoint.MaxRetryCount)

	exec := New(db, zap.NewNop())
	outcome, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.False(t, outcome.Success)

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Nil(t, stored.NextRetryAt)
	assert.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "max attempts reached")
	assert.Contains(t, *stored.LastError, "HTTP 502")
}

func TestExecuteZeroRetryBudgetFailsImmediately(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	endpoint.MaxRetryCount = 0
	require.NoError(t, db.Model(&models.Endpoint{}).Where("id = ?", endpoint.ID).Update("max_retry_count", 0).Error)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	_, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "max attempts reached")
}

func TestExecuteDisabledEndpointFailsWithoutCalling(t *testing.T) {
	db := newTestDB(t)
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	endpoint.Enabled = false
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	outcome, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.False(t, outcome.Retryable)
	assert.Zero(t, calls.Load())

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "endpoint disabled", *stored.LastError)
}

func TestExecuteTimeoutIsRetryable(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	endpoint.TimeoutMs = 50
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	outcome, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.True(t, outcome.Retryable)
	assert.Nil(t, outcome.ResponseCode)

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusRetrying, stored.Status)
}

func TestExecuteConnectionErrorIsRetryable(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	endpoint := makeEndpoint(t, db, url)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	outcome, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.False(t, outcome.Success)
	assert.True(t, outcome.Retryable)

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusRetrying, stored.Status)
}

func TestExecuteSendsHeadersAndSignature(t *testing.T) {
	db := newTestDB(t)

	var gotHeaders http.Header
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	endpoint.Method = "PUT"
	endpoint.Headers = map[string]string{"X-Env": "prod"}
	require.NoError(t, db.Create(&models.Secret{
		EndpointID: endpoint.ID,
		Name:       models.SigningSecretName,
		Value:      "s3cret",
		CreatedAt:  time.Now().UTC(),
	}).Error)

	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	_, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.Equal(t, "PUT", gotMethod)
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "prod", gotHeaders.Get("X-Env"))
	assert.Equal(t, attempt.ID.String(), gotHeaders.Get("X-Delivery-Id"))

	expected, err := SignPayload(attempt.Payload, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, expected, gotHeaders.Get(SignatureHeader))
}

func TestExecuteNoSignatureWithoutSecret(t *testing.T) {
	db := newTestDB(t)

	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	_, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.Empty(t, gotHeaders.Get(SignatureHeader))
}

func TestExecuteRecordsResponseSummary(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("database unavailable"))
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	_, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	stored := reloadAttempt(t, db, attempt.ID)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "HTTP 503")
	assert.Contains(t, *stored.LastError, "database unavailable")
}

func TestExecuteResponseSummaryIsCapped(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(bytes.Repeat([]byte("x"), 64*1024))
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	exec := New(db, zap.NewNop())
	_, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	stored := reloadAttempt(t, db, attempt.ID)
	require.NotNil(t, stored.LastError)
	assert.LessOrEqual(t, len(*stored.LastError), maxResponseSummaryBytes+32)
}

func TestExecuteHonorsLargerRetryAfter(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	before := time.Now().UTC()
	exec := New(db, zap.NewNop(), WithBackoff(time.Second, time.Hour))
	outcome, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, outcome.RetryAfter)

	stored := reloadAttempt(t, db, attempt.ID)
	assert.Equal(t, models.StatusRetrying, stored.Status)
	require.NotNil(t, stored.NextRetryAt)
	// The server-requested delay wins over the 1s computed backoff
	assert.WithinDuration(t, before.Add(120*time.Second), *stored.NextRetryAt, 5*time.Second)
}

func TestExecuteRetryAfterStillCapped(t *testing.T) {
	db := newTestDB(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	endpoint := makeEndpoint(t, db, server.URL)
	attempt := makeAttempt(t, db, endpoint.ID, 0)

	before := time.Now().UTC()
	exec := New(db, zap.NewNop(), WithBackoff(time.Second, time.Minute))
	_, err := exec.Execute(context.Background(), endpoint, attempt)
	require.NoError(t, err)

	stored := reloadAttempt(t, db, attempt.ID)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, before.Add(time.Minute), *stored.NextRetryAt, 5*time.Second)
}
