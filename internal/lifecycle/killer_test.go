package lifecycle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitRecorder struct {
	code  atomic.Int32
	calls atomic.Int32
}

func (r *exitRecorder) exit(code int) {
	r.code.Store(int32(code))
	r.calls.Add(1)
}

func TestKiller_FiresAfterDelay(t *testing.T) {
	rec := &exitRecorder{}
	k := newKiller(rec.exit, nil)

	k.Arm(20 * time.Millisecond)
	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), rec.code.Load())
}

func TestKiller_Disarm(t *testing.T) {
	rec := &exitRecorder{}
	k := newKiller(rec.exit, nil)

	assert.False(t, k.Disarm(), "not armed")
	k.Arm(50 * time.Millisecond)
	assert.True(t, k.Disarm())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), rec.calls.Load())
}

func TestKiller_ArmTwiceKeepsFirst(t *testing.T) {
	rec := &exitRecorder{}
	k := newKiller(rec.exit, nil)

	k.Arm(20 * time.Millisecond)
	k.Arm(time.Hour)
	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestKiller_NegativeDelayDisables(t *testing.T) {
	rec := &exitRecorder{}
	k := newKiller(rec.exit, nil)

	k.Arm(-1)
	assert.False(t, k.Disarm())
	assert.Equal(t, int32(0), rec.calls.Load())
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, 30*time.Second, cfg.KillDelay)
	require.NoError(t, cfg.Validate())

	cfg.KillDelay = -1
	assert.NoError(t, cfg.Validate(), "disabled killer")

	cfg.KillDelay = time.Second
	assert.Error(t, cfg.Validate())

	t.Setenv("STAGEHAND_KILL_DELAY", "45s")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 45*time.Second, cfg.KillDelay)
}
