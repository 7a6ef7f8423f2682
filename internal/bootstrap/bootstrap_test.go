package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/insured-appointments/internal/config"
	"github.com/hackgods/insured-appointments/pkg/logging"
)

func TestLoadAWSConfig_LocalStackOverride(t *testing.T) {
	cfg := config.Config{
		AWSRegion:          "us-east-1",
		AWSEndpoint:        "http://localhost:4566",
		AWSAccessKeyID:     "test",
		AWSSecretAccessKey: "secret",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", awsCfg.Region)
	assert.Equal(t, "http://localhost:4566", aws.ToString(awsCfg.BaseEndpoint))

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}

func TestOpenLocker(t *testing.T) {
	logger := logging.Nop()

	disabled := OpenLocker(context.Background(), config.Config{LockEnabled: false}, logger)
	assert.Nil(t, disabled.Locker)
	assert.Nil(t, disabled.Check.Ping)

	mr := miniredis.RunT(t)
	enabled := OpenLocker(context.Background(), config.Config{
		LockEnabled: true,
		RedisAddr:   mr.Addr(),
		LockTTL:     time.Second,
	}, logger)
	defer enabled.Close()
	require.NotNil(t, enabled.Locker)
	assert.NoError(t, enabled.Check.Ping(context.Background()))

	ran := false
	err := enabled.Locker.WithInsuredLock(context.Background(), "12345", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestOpenLocker_UnreachableRedisFallsBack(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	l := OpenLocker(context.Background(), config.Config{LockEnabled: true, RedisAddr: addr}, logging.Nop())
	assert.Nil(t, l.Locker)
}

func TestOpenIndex_RequiresDSN(t *testing.T) {
	_, err := OpenIndex(context.Background(), config.Config{IndexBackend: config.IndexBackendPostgres}, logging.Nop())
	assert.Error(t, err)
}
