package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRecorderStopped is returned by Record once the recorder has exited.
var ErrRecorderStopped = errors.New("run recorder stopped")

// Recorder saves runs from a channel in the background so request handlers
// do not wait on the database.
type Recorder struct {
	store  *Store
	logger *zap.SugaredLogger
	runs   chan RunRecord
	done   chan struct{}
}

// StartRecorder launches the writer goroutine. It drains and exits when ctx
// is cancelled; wg is released once it has stopped.
func (s *Store) StartRecorder(ctx context.Context, wg *sync.WaitGroup, buffer int) *Recorder {
	r := &Recorder{store: s, logger: s.logger, runs: make(chan RunRecord, buffer), done: make(chan struct{})}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(r.done)
		for {
			select {
			case rec := <-r.runs:
				r.save(rec)
			case <-ctx.Done():
				for {
					select {
					case rec := <-r.runs:
						r.save(rec)
					default:
						r.logger.Info("cancellation request received, run recorder stopped")
						return
					}
				}
			}
		}
	}()
	return r
}

// Record queues rec. It blocks while the buffer is full and fails with
// ErrRecorderStopped once the recorder has exited.
func (r *Recorder) Record(rec RunRecord) error {
	select {
	case <-r.done:
		return ErrRecorderStopped
	default:
	}
	select {
	case r.runs <- rec:
		return nil
	case <-r.done:
		return ErrRecorderStopped
	}
}

func (r *Recorder) save(rec RunRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.store.SaveRun(ctx, rec); err != nil {
		r.logger.Errorf("failed to save run %s: %v", rec.ID, err)
	}
}

// HealthData is the latest result of a store health check.
type HealthData struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// HealthMonitor pings the store periodically and keeps the latest result.
type HealthMonitor struct {
	store  *Store
	mu     sync.RWMutex
	latest HealthData
}

// StartHealthMonitor checks the store immediately and then every interval
// until ctx is cancelled.
func (s *Store) StartHealthMonitor(ctx context.Context, interval time.Duration) *HealthMonitor {
	h := &HealthMonitor{store: s}
	h.check(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.check(ctx)
			case <-ctx.Done():
				s.logger.Infof("stopping %s health monitor", s.driver)
				return
			}
		}
	}()
	return h
}

func (h *HealthMonitor) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health := HealthData{Status: "healthy", Message: h.store.driver + " reachable", LastCheck: time.Now()}
	if err := h.store.Ping(pingCtx); err != nil {
		health.Status = "unhealthy"
		health.Message = h.store.driver + " unreachable"
		health.Error = err.Error()
		h.store.logger.Warnf("run store health check failed: %v", err)
	}

	h.mu.Lock()
	h.latest = health
	h.mu.Unlock()
}

// Latest returns the most recent health check.
func (h *HealthMonitor) Latest() HealthData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}
