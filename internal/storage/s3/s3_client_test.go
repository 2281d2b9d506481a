package s3_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctdms/internal/config"
	"ctdms/internal/domain"
	s3store "ctdms/internal/storage/s3"
)

func testConfig() *config.S3Config {
	return &config.S3Config{
		Region:    "us-east-1",
		Bucket:    "trial-docs",
		Endpoint:  "http://localhost:9000",
		AccessKey: "test-access",
		SecretKey: "test-secret",
	}
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	cfg := testConfig()
	cfg.Bucket = ""
	_, err := s3store.NewS3Client(context.Background(), cfg)
	assert.ErrorIs(t, err, domain.ErrStorageNotConfigured)
}

func TestPresignGet(t *testing.T) {
	client, err := s3store.NewS3Client(context.Background(), testConfig())
	require.NoError(t, err)

	raw, err := client.PresignGet(context.Background(), "studies/abc/v1.pdf", 10*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/trial-docs/studies/abc/v1.pdf", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestPresignPut(t *testing.T) {
	client, err := s3store.NewS3Client(context.Background(), testConfig())
	require.NoError(t, err)

	raw, err := client.PresignPut(context.Background(), "studies/abc/v2.pdf", "application/pdf", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, raw, "/trial-docs/studies/abc/v2.pdf")
	assert.Contains(t, raw, "X-Amz-Signature=")
}
