package registry

import (
	"context"
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

func newTestRegistry(t *testing.T) (*Registry, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return New(db, zap.NewNop()), db
}

func TestRegisterAppliesDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)

	endpoint, err := reg.Register(context.Background(), RegisterInput{
		Name: "orders",
		URL:  "https://example.com/hook",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, endpoint.ID)
	assert.Equal(t, "POST", endpoint.Method)
	assert.Equal(t, 30000, endpoint.TimeoutMs)
	assert.Equal(t, 3, endpoint.MaxRetryCount)
	assert.Equal(t, models.TransportQueue, endpoint.TransportMode)
	assert.True(t, endpoint.Enabled)
}

func TestRegisterValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input RegisterInput
	}{
		{"missing name", RegisterInput{URL: "https://example.com"}},
		{"missing url", RegisterInput{Name: "a"}},
		{"bad scheme", RegisterInput{Name: "a", URL: "ftp://example.com"}},
		{"unparseable url", RegisterInput{Name: "a", URL: "http://ex ample.com/%zz"}},
		{"bad method", RegisterInput{Name: "a", URL: "https://example.com", Method: "FETCH"}},
		{"bad transport mode", RegisterInput{Name: "a", URL: "https://example.com", TransportMode: "pigeon"}},
		{"stream mode without subject", RegisterInput{Name: "a", URL: "https://example.com", TransportMode: models.TransportStream}},
		{"both mode without subject", RegisterInput{Name: "a", URL: "https://example.com", TransportMode: models.TransportBoth}},
		{"negative retries", RegisterInput{Name: "a", URL: "https://example.com", MaxRetryCount: intPtr(-1)}},
		{"zero timeout", RegisterInput{Name: "a", URL: "https://example.com", TimeoutMs: intPtr(0)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Register(ctx, tc.input)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}

	// Nothing persisted after rejected registrations
	endpoints, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}

func TestUpdateAppliesOnlyProvidedFields(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	endpoint, err := reg.Register(ctx, RegisterInput{
		Name:    "orders",
		URL:     "https://example.com/hook",
		Headers: map[string]string{"X-Env": "prod"},
	})
	require.NoError(t, err)

	newURL := "https://example.org/v2/hook"
	updated, err := reg.Update(ctx, endpoint.ID, UpdateInput{URL: &newURL})
	require.NoError(t, err)
	require.True(t, updated)

	got, err := reg.Get(ctx, endpoint.ID)
	require.NoError(t, err)
	assert.Equal(t, newURL, got.URL)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, map[string]string{"X-Env": "prod"}, got.Headers)
	assert.Equal(t, 3, got.MaxRetryCount)
	assert.True(t, got.Enabled)
}

func TestUpdateRejectsStreamModeWithoutSubject(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	endpoint, err := reg.Register(ctx, RegisterInput{
		Name: "orders",
		URL:  "https://example.com/hook",
	})
	require.NoError(t, err)

	mode := models.TransportStream
	_, err = reg.Update(ctx, endpoint.ID, UpdateInput{TransportMode: &mode})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	// Providing the subject together with the mode change is accepted
	subject := "events.orders"
	updated, err := reg.Update(ctx, endpoint.ID, UpdateInput{TransportMode: &mode, StreamSubject: &subject})
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestUpdateUnknownEndpointReturnsFalse(t *testing.T) {
	reg, _ := newTestRegistry(t)

	enabled := false
	updated, err := reg.Update(context.Background(), uuid.New(), UpdateInput{Enabled: &enabled})
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestDeleteCascadesToAttemptsAndSecrets(t *testing.T) {
	reg, db := newTestRegistry(t)
	ctx := context.Background()

	endpoint, err := reg.Register(ctx, RegisterInput{Name: "orders", URL: "https://example.com/hook"})
	require.NoError(t, err)
	other, err := reg.Register(ctx, RegisterInput{Name: "invoices", URL: "https://example.com/other"})
	require.NoError(t, err)

	require.NoError(t, reg.SetSecret(ctx, endpoint.ID, "signing", "s3cret"))
	require.NoError(t, reg.SetSecret(ctx, other.ID, "signing", "other"))

	for _, id := range []uuid.UUID{endpoint.ID, other.ID} {
		attempt := models.DeliveryAttempt{
			ID:          uuid.New(),
			EndpointID:  id,
			Payload:     []byte(`{}`),
			Status:      models.StatusPending,
			ScheduledAt: time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, db.Create(&attempt).Error)
	}

	deleted, err := reg.Delete(ctx, endpoint.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	// No orphan rows remain for the deleted endpoint
	var attempts int64
	require.NoError(t, db.Model(&models.DeliveryAttempt{}).Where("endpoint_id = ?", endpoint.ID).Count(&attempts).Error)
	assert.Zero(t, attempts)
	var secrets int64
	require.NoError(t, db.Model(&models.Secret{}).Where("endpoint_id = ?", endpoint.ID).Count(&secrets).Error)
	assert.Zero(t, secrets)

	// The other endpoint is untouched
	require.NoError(t, db.Model(&models.DeliveryAttempt{}).Where("endpoint_id = ?", other.ID).Count(&attempts).Error)
	assert.Equal(t, int64(1), attempts)
	require.NoError(t, db.Model(&models.Secret{}).Where("endpoint_id = ?", other.ID).Count(&secrets).Error)
	assert.Equal(t, int64(1), secrets)

	deleted, err = reg.Delete(ctx, endpoint.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSecretLifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	endpoint, err := reg.Register(ctx, RegisterInput{Name: "orders", URL: "https://example.com/hook"})
	require.NoError(t, err)

	require.NoError(t, reg.SetSecret(ctx, endpoint.ID, "signing", "first"))
	value, found, err := reg.GetSecret(ctx, endpoint.ID, "signing")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "first", value)

	// Setting again replaces the value
	require.NoError(t, reg.SetSecret(ctx, endpoint.ID, "signing", "second"))
	value, found, err = reg.GetSecret(ctx, endpoint.ID, "signing")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "second", value)

	deleted, err := reg.DeleteSecret(ctx, endpoint.ID, "signing")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err = reg.GetSecret(ctx, endpoint.ID, "signing")
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err = reg.DeleteSecret(ctx, endpoint.ID, "signing")
	require.NoError(t, err)
	assert.False(t, deleted)

	err = reg.SetSecret(ctx, uuid.New(), "signing", "x")
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestSaveStreamConfig(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	err := reg.SaveStreamConfig(ctx, &models.StreamConfig{Name: "main"})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	cfg := &models.StreamConfig{Name: "main", URLs: "nats://localhost:4222"}
	require.NoError(t, reg.SaveStreamConfig(ctx, cfg))
	assert.Equal(t, models.StreamAuthNone, cfg.AuthMode)
	assert.Equal(t, 10, cfg.PoolSize)

	cfg.PoolSize = 4
	cfg.SubjectPrefix = "delivery"
	require.NoError(t, reg.SaveStreamConfig(ctx, cfg))

	got, err := reg.GetStreamConfigByName(ctx, "main")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg.ID, got.ID)
	assert.Equal(t, 4, got.PoolSize)
	assert.Equal(t, "delivery", got.SubjectPrefix)

	missing, err := reg.GetStreamConfigByName(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func intPtr(v int) *int { return &v }
