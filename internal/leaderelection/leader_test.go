package leaderelection

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

type mockMetrics struct {
	mu       sync.Mutex
	statuses []bool
	acquired int
	lost     []string
}

func (m *mockMetrics) LeaderStatusChanged(isLeader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, isLeader)
}

func (m *mockMetrics) LeaderAcquired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
}

func (m *mockMetrics) LeaderLost(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = append(m.lost, reason)
}

// countingDuties tracks how many electors run their duties at once.
type countingDuties struct {
	mu      *sync.Mutex
	running *int
	max     *int
	elected chan struct{}
	started bool
}

func (d *countingDuties) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	*d.running++
	if *d.running > *d.max {
		*d.max = *d.running
	}
	d.elected <- struct{}{}
}

func (d *countingDuties) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		d.started = false
		*d.running--
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LockKey != DefaultLockKey {
		t.Errorf("LockKey = %d, want %d", cfg.LockKey, DefaultLockKey)
	}
	if cfg.RetryInterval <= cfg.HeartbeatInterval {
		t.Errorf("retry %s should exceed heartbeat %s", cfg.RetryInterval, cfg.HeartbeatInterval)
	}
}

func TestElector_OnlyOneLeader(t *testing.T) {
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		LockKey:           DefaultLockKey + time.Now().UnixNano()%1000,
		RetryInterval:     20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}

	var mu sync.Mutex
	running, maxRunning := 0, 0
	elected := make(chan struct{}, 2)
	newElector := func(m *mockMetrics) *Elector {
		duties := &countingDuties{mu: &mu, running: &running, max: &maxRunning, elected: elected}
		return New(db, cfg, duties, logger).WithMetrics(m)
	}

	m1, m2 := &mockMetrics{}, &mockMetrics{}
	e1, e2 := newElector(m1), newElector(m2)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, e := range []*Elector{e1, e2} {
		wg.Add(1)
		go func(e *Elector) {
			defer wg.Done()
			e.Run(ctx)
		}(e)
	}

	select {
	case <-elected:
	case <-time.After(5 * time.Second):
		t.Fatal("no instance was elected")
	}
	time.Sleep(200 * time.Millisecond)
	if e1.IsLeader() == e2.IsLeader() {
		t.Errorf("IsLeader = %v and %v, want exactly one leader", e1.IsLeader(), e2.IsLeader())
	}
	cancel()
	wg.Wait()

	if maxRunning != 1 {
		t.Errorf("max concurrent leaders = %d, want 1", maxRunning)
	}
	if running != 0 {
		t.Errorf("duties still running after shutdown: %d", running)
	}
	if m1.acquired+m2.acquired != 1 {
		t.Errorf("acquisitions = %d, want 1", m1.acquired+m2.acquired)
	}
	lost := append(m1.lost, m2.lost...)
	if len(lost) != 1 || lost[0] != ReasonShutdown {
		t.Errorf("lost = %v, want [%s]", lost, ReasonShutdown)
	}
	if e1.IsLeader() || e2.IsLeader() {
		t.Error("an elector still reports leadership after Run returned")
	}
}

func TestElector_FailoverAfterLeaderStops(t *testing.T) {
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		LockKey:           DefaultLockKey + 1000 + time.Now().UnixNano()%1000,
		RetryInterval:     20 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}

	var mu sync.Mutex
	running, maxRunning := 0, 0
	elected := make(chan struct{}, 4)
	first := New(db, cfg, &countingDuties{mu: &mu, running: &running, max: &maxRunning, elected: elected}, logger)
	second := New(db, cfg, &countingDuties{mu: &mu, running: &running, max: &maxRunning, elected: elected}, logger)

	ctx1, cancel1 := context.WithCancel(context.Background())
	done1 := make(chan struct{})
	go func() {
		defer close(done1)
		first.Run(ctx1)
	}()
	select {
	case <-elected:
	case <-time.After(5 * time.Second):
		t.Fatal("first instance was not elected")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		second.Run(ctx2)
	}()

	cancel1()
	<-done1
	select {
	case <-elected:
	case <-time.After(5 * time.Second):
		t.Fatal("second instance did not take over")
	}
	if !second.IsLeader() {
		t.Error("second instance should be leader")
	}
	cancel2()
	<-done2
}
