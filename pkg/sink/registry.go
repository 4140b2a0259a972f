package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nassdata/quickstats/pkg/config"
	"github.com/nassdata/quickstats/pkg/errors"
	"github.com/nassdata/quickstats/pkg/metrics"
)

// Factory builds a sink from the output section of the configuration.
type Factory func(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (Sink, error)

// Info describes a registered sink.
type Info struct {
	Name        string
	Description string
}

type entry struct {
	info    Info
	factory Factory
}

var (
	mu       sync.RWMutex
	registry = map[string]entry{}
)

// Register makes a sink available under name. Registering a name twice is an error.
func Register(name, description string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[name]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink %s already registered", name))
	}
	registry[name] = entry{info: Info{Name: name, Description: description}, factory: factory}
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(name, description string, factory Factory) {
	if err := Register(name, description, factory); err != nil {
		panic(err)
	}
}

// Available lists the registered sinks by name.
func Available() []Info {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]Info, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// New builds the sink named by cfg.Type. The returned sink records write metrics.
func New(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mu.RLock()
	e, ok := registry[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("sink %q not found (is its package imported?)", cfg.Type))
	}

	s, err := e.factory(ctx, cfg, logger.With(zap.String("component", "sink"), zap.String("sink", cfg.Type)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create sink %s", cfg.Type))
	}
	return Instrument(cfg.Type, s), nil
}

// instrumented counts records and tracks throughput around another sink.
type instrumented struct {
	name       string
	next       Sink
	throughput *metrics.ThroughputTracker
}

// Instrument wraps s so successful writes update the sink metrics.
func Instrument(name string, s Sink) Sink {
	return &instrumented{name: name, next: s, throughput: metrics.NewThroughputTracker(name)}
}

func (i *instrumented) Write(ctx context.Context, batch *Batch) error {
	if err := i.next.Write(ctx, batch); err != nil {
		return err
	}
	n := len(batch.Records)
	metrics.RecordsWritten.WithLabelValues(i.name).Add(float64(n))
	i.throughput.Increment(int64(n))
	i.throughput.GetAndReset()
	return nil
}

func (i *instrumented) Close(ctx context.Context) error {
	return i.next.Close(ctx)
}

// Unwrap returns the sink underneath the instrumentation.
func (i *instrumented) Unwrap() Sink {
	return i.next
}
