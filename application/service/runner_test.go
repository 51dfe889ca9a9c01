package service_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablevec/tablevec/application/service"
)

func TestRunnerRegistryRunsOnce(t *testing.T) {
	runners := service.NewRunnerRegistry()

	var calls atomic.Int32
	release := make(chan struct{})
	err := runners.Start(context.Background(), "job-1", func(context.Context) {
		<-release
		calls.Add(1)
	})
	require.NoError(t, err)
	assert.True(t, runners.Running("job-1"))

	err = runners.Start(context.Background(), "job-1", func(context.Context) {
		calls.Add(1)
	})
	require.Error(t, err, "a job runs at most once at a time")

	close(release)
	runners.Wait("job-1")
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, runners.Running("job-1"))
}

func TestRunnerRegistryRestartAfterFinish(t *testing.T) {
	runners := service.NewRunnerRegistry()

	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		require.NoError(t, runners.Start(context.Background(), "job-1", func(context.Context) {
			calls.Add(1)
		}))
		runners.Wait("job-1")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunnerRegistryWaitUnknownJob(t *testing.T) {
	runners := service.NewRunnerRegistry()
	runners.Wait("never-started")
	assert.False(t, runners.Running("never-started"))
}
