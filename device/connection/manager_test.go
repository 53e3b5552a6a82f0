package connection

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// newTestManager returns a manager whose clock is controlled by the returned pointer.
func newTestManager(interval time.Duration, multiplier float64) (*Manager, *time.Time) {
	m := NewManager(ManagerConfig{
		FrameInterval:   interval,
		StaleMultiplier: multiplier,
	})
	now := time.Now()
	m.nowFn = func() time.Time { return now }
	return m, &now
}

func TestManager_NewManager_Defaults(t *testing.T) {
	m := NewManager(ManagerConfig{})

	if m.cfg.FrameInterval != DefaultFrameInterval {
		t.Errorf("default FrameInterval = %v, want %v", m.cfg.FrameInterval, DefaultFrameInterval)
	}
	if m.cfg.StaleMultiplier != DefaultStaleMultiplier {
		t.Errorf("default StaleMultiplier = %v, want %v", m.cfg.StaleMultiplier, DefaultStaleMultiplier)
	}
	if m.Timeout() != 2500*time.Millisecond {
		t.Errorf("Timeout = %v, want 2.5s", m.Timeout())
	}
	if m.LiveCount() != 0 {
		t.Errorf("new manager should have 0 streams, got %d", m.LiveCount())
	}
}

func TestManager_Register_And_IsLive(t *testing.T) {
	m := NewManager(ManagerConfig{})

	m.Register("serial:/dev/ttyACM0")

	if !m.IsLive("serial:/dev/ttyACM0") {
		t.Error("registered stream should be live")
	}
	if m.IsLive("unknown") {
		t.Error("unknown stream should not be live")
	}
	if m.LiveCount() != 1 {
		t.Errorf("LiveCount = %d, want 1", m.LiveCount())
	}
}

func TestManager_Touch(t *testing.T) {
	m, now := newTestManager(10*time.Second, 2.0)
	m.Register("imu")

	// Advance close to timeout (20 seconds)
	*now = now.Add(15 * time.Second)
	m.Touch("imu")

	// 30s since register, 15s since the last frame
	*now = now.Add(15 * time.Second)
	m.CheckTimeouts()

	if !m.IsLive("imu") {
		t.Error("touched stream should still be live")
	}
	state, ok := m.State("imu")
	if !ok || state.Frames != 1 {
		t.Errorf("State = %+v, %v; want 1 frame", state, ok)
	}
}

func TestManager_Touch_Unknown(t *testing.T) {
	m := NewManager(ManagerConfig{})
	// Should not panic or start tracking
	m.Touch("unknown")
	if _, ok := m.State("unknown"); ok {
		t.Error("Touch should not register streams")
	}
}

func TestManager_Remove_NoCallback(t *testing.T) {
	m, now := newTestManager(time.Second, 1)

	var called atomic.Bool
	m.SetOnStale(func(StreamState) { called.Store(true) })

	m.Register("imu")
	m.Remove("imu")

	*now = now.Add(time.Minute)
	m.CheckTimeouts()

	if called.Load() {
		t.Error("removed stream should not be reported stale")
	}
	if m.IsLive("imu") {
		t.Error("removed stream should not be live")
	}
}

func TestManager_CheckTimeouts_Stale(t *testing.T) {
	m, now := newTestManager(10*time.Second, 2.0)
	m.Register("imu")

	var reported []StreamState
	m.SetOnStale(func(s StreamState) { reported = append(reported, s) })

	// Advance past timeout
	*now = now.Add(25 * time.Second)
	m.CheckTimeouts()

	if len(reported) != 1 || reported[0].Name != "imu" || !reported[0].Stale {
		t.Fatalf("reported = %+v, want one stale imu", reported)
	}
	if m.IsLive("imu") {
		t.Error("stale stream should not be live")
	}
	if _, ok := m.State("imu"); !ok {
		t.Error("stale stream should still be tracked")
	}

	// Reported once per silence.
	*now = now.Add(25 * time.Second)
	m.CheckTimeouts()
	if len(reported) != 1 {
		t.Errorf("stale stream reported %d times, want 1", len(reported))
	}
}

func TestManager_Recover(t *testing.T) {
	m, now := newTestManager(10*time.Second, 2.0)
	m.Register("imu")

	var recovered atomic.Int32
	m.SetOnRecover(func(s StreamState) {
		if s.Stale {
			t.Error("recovered state should not be stale")
		}
		recovered.Add(1)
	})

	// A frame on a live stream is not a recovery.
	m.Touch("imu")

	*now = now.Add(25 * time.Second)
	m.CheckTimeouts()
	m.Touch("imu")

	if recovered.Load() != 1 {
		t.Errorf("recovered %d times, want 1", recovered.Load())
	}
	if !m.IsLive("imu") {
		t.Error("stream should be live after a new frame")
	}
}

func TestManager_CheckTimeouts_NoFalsePositive(t *testing.T) {
	m, now := newTestManager(10*time.Second, 2.0)
	m.Register("imu")

	// Advance but not past timeout
	*now = now.Add(15 * time.Second)
	m.CheckTimeouts()

	if !m.IsLive("imu") {
		t.Error("stream should still be live before timeout")
	}
}

func TestManager_CheckTimeouts_Multiple(t *testing.T) {
	m, now := newTestManager(10*time.Second, 2.0)

	m.Register("a") // registered at t=0
	*now = now.Add(10 * time.Second)
	m.Register("b") // registered at t=10
	*now = now.Add(5 * time.Second)
	m.Register("c") // registered at t=15

	var staleCount atomic.Int32
	m.SetOnStale(func(StreamState) { staleCount.Add(1) })

	// At t=25: a has been quiet for 25s (> 20s timeout), others are fine
	*now = now.Add(10 * time.Second)
	m.CheckTimeouts()

	if staleCount.Load() != 1 {
		t.Errorf("reported %d streams, want 1", staleCount.Load())
	}
	if m.IsLive("a") {
		t.Error("a should be stale")
	}
	if !m.IsLive("b") || !m.IsLive("c") {
		t.Error("b and c should still be live")
	}
	if m.LiveCount() != 2 {
		t.Errorf("LiveCount = %d, want 2", m.LiveCount())
	}
}

func TestManager_CheckTimeouts_NilCallback(t *testing.T) {
	m, now := newTestManager(10*time.Second, 2.0)
	m.Register("imu")

	// No callback set, should not panic
	*now = now.Add(25 * time.Second)
	m.CheckTimeouts()

	if m.IsLive("imu") {
		t.Error("stream should be stale even without callback")
	}
}

func TestManager_Stop(t *testing.T) {
	m := NewManager(ManagerConfig{})

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	m.Stop()

	select {
	case <-done:
		// OK
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop within timeout")
	}
}

func TestManager_Stop_Context(t *testing.T) {
	m := NewManager(ManagerConfig{})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// OK
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop within timeout")
	}
}
