package process_test

import (
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camstream/internal/process"
	"camstream/internal/process/processtest"
)

func TestStop(t *testing.T) {
	tests := []struct {
		name       string
		configure  func(h *processtest.Handle)
		wantErr    error
		wantKilled bool
	}{
		{
			name:      "graceful exit",
			configure: func(h *processtest.Handle) {},
		},
		{
			name:       "ignores terminate",
			configure:  func(h *processtest.Handle) { h.IgnoreTerminate = true },
			wantErr:    process.ErrStopTimeout,
			wantKilled: true,
		},
		{
			name:      "already exited",
			configure: func(h *processtest.Handle) { h.Kill() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &processtest.Runner{}
			h, err := runner.Start(process.Spec{Path: "ffmpeg"})
			require.NoError(t, err)
			fake := h.(*processtest.Handle)
			tt.configure(fake)
			killedBefore := fake.Killed()

			err = process.Stop(h, 50*time.Millisecond)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				assert.NoError(t, err)
			}

			select {
			case <-h.Done():
			default:
				t.Fatal("process still running after Stop")
			}
			assert.Equal(t, tt.wantKilled, fake.Killed() && !killedBefore)
		})
	}
}

func TestFakeHandleTerminateAfterExit(t *testing.T) {
	runner := &processtest.Runner{}
	h, err := runner.Start(process.Spec{Path: "ffmpeg"})
	require.NoError(t, err)

	require.NoError(t, h.Terminate())
	assert.ErrorIs(t, h.Terminate(), os.ErrProcessDone)
	assert.ErrorIs(t, h.Kill(), os.ErrProcessDone)
}

func TestRunnerStartErr(t *testing.T) {
	runner := &processtest.Runner{
		StartErr: func(process.Spec) error { return process.ErrSpawn },
	}
	h, err := runner.Start(process.Spec{Path: "ffmpeg"})
	assert.Nil(t, h)
	assert.ErrorIs(t, err, process.ErrSpawn)
	assert.Empty(t, runner.Specs())
}
