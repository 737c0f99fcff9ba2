package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.False(t, cfg.Server.IsProduction())
	assert.Equal(t, 30*time.Minute, cfg.JWT.AccessTokenExpiry)
	assert.Equal(t, int64(25*1024*1024), cfg.Upload.MaxSize)
	assert.Equal(t, uint64(3), cfg.Upload.Retries)
	assert.Equal(t, "local", cfg.Media.Driver)
	assert.Equal(t, 10, cfg.Calls.MaxCallsPerWindow)
	assert.Equal(t, 5*time.Minute, cfg.Calls.RateWindow)
	assert.Equal(t, 30*time.Second, cfg.Calls.ReplayWindow)
	assert.Equal(t, 1000, cfg.Calls.EventLogSize)
	assert.Equal(t, "@every 30s", cfg.Calls.CleanupSchedule)
	assert.Empty(t, cfg.Security.OperatorIDs)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("APP_ENV", "production")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("CALL_REPLAY_WINDOW", "45s")
	t.Setenv("OPERATOR_USER_IDS", "1, 42")
	t.Setenv("ALERT_EMAIL_TO", "ops@example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Server.IsProduction())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 45*time.Second, cfg.Calls.ReplayWindow)
	assert.Equal(t, []int64{1, 42}, cfg.Security.OperatorIDs)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Alerts.EmailTo)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"bad port", map[string]string{"SERVER_PORT": "eighty"}, "SERVER_PORT"},
		{"bad duration", map[string]string{"CALL_RATE_WINDOW": "5 minutes"}, "CALL_RATE_WINDOW"},
		{"bad operator id", map[string]string{"OPERATOR_USER_IDS": "1,x"}, "OPERATOR_USER_IDS"},
		{"unknown driver", map[string]string{"MEDIA_DRIVER": "ftp"}, "MEDIA_DRIVER"},
		{"s3 without bucket", map[string]string{"MEDIA_DRIVER": "s3", "S3_BUCKET": ""}, "S3_BUCKET"},
		{"zero upload size", map[string]string{"UPLOAD_MAX_SIZE": "0"}, "UPLOAD_MAX_SIZE"},
		{"zero call limit", map[string]string{"CALL_RATE_LIMIT": "0"}, "CALL_RATE_LIMIT"},
		{"too many retries", map[string]string{"UPLOAD_RETRIES": "11"}, "UPLOAD_RETRIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
