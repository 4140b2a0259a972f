package sink

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
)

func init() {
	MustRegister("memory", "keeps batches in memory (dry runs)", func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (Sink, error) {
		return NewMemory(), nil
	})
}

// Memory collects batches in memory.
type Memory struct {
	mu      sync.Mutex
	batches []*Batch
	closed  bool
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return nil
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Batches returns the batches written so far.
func (m *Memory) Batches() []*Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Batch(nil), m.batches...)
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
