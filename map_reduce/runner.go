package map_reduce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Runner executes a job in-process: one map task per source, then one reduce
// task per key partition.
type Runner struct {
	mapper      Mapper
	reducer     Reducer
	logger      *slog.Logger
	partitions  int
	parallelism int
	mu          sync.Mutex
}

type RunnerOption func(*Runner)

func WithPartitions(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.partitions = n
		}
	}
}

func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRunner(m Mapper, r Reducer, opts ...RunnerOption) *Runner {
	runner := &Runner{
		mapper:      m,
		reducer:     r,
		logger:      slog.Default(),
		partitions:  1,
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Run maps in-memory sources keyed by name.
func (r *Runner) Run(inputs map[string]string) ([]KeyValue, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	return r.run(context.Background(), names, func(name string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(inputs[name])), nil
	})
}

// RunFiles maps every file in paths.
func (r *Runner) RunFiles(ctx context.Context, paths []string) ([]KeyValue, error) {
	return r.run(ctx, paths, func(path string) (io.ReadCloser, error) {
		return os.Open(path)
	})
}

func (r *Runner) run(ctx context.Context, sources []string, open func(string) (io.ReadCloser, error)) ([]KeyValue, error) {
	partitions := make([][]KeyValue, r.partitions)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, src := range sources {
		g.Go(func() error {
			local, err := r.mapSource(gctx, src, open)
			if err != nil {
				return fmt.Errorf("mapping error: %w", err)
			}
			r.mu.Lock()
			for i := range local {
				partitions[i] = append(partitions[i], local[i]...)
			}
			r.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reduced := make([][]KeyValue, r.partitions)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, kvs := range partitions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := ReduceGroups(r.reducer, kvs)
			if err != nil {
				return err
			}
			reduced[i] = out
			r.logger.Debug("reduce task complete", "partition", i, "records", len(out))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []KeyValue
	for _, out := range reduced {
		results = append(results, out...)
	}
	SortKeyValues(results)
	return results, nil
}

func (r *Runner) mapSource(ctx context.Context, src string, open func(string) (io.ReadCloser, error)) ([][]KeyValue, error) {
	rc, err := open(src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	local := make([][]KeyValue, r.partitions)
	n := 0
	err = ScanLines(rc, src, func(pos Position, line string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		kvs, err := r.mapper.Map(pos, line)
		if err != nil {
			return fmt.Errorf("%s: %w", pos, err)
		}
		for _, kv := range kvs {
			p := Partition(kv.Key, r.partitions)
			local[p] = append(local[p], kv)
		}
		n += len(kvs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("map task complete", "source", src, "records", n)
	return local, nil
}

// ReduceGroups groups kvs by key and reduces each group once, in key order.
func ReduceGroups(reducer Reducer, kvs []KeyValue) ([]KeyValue, error) {
	groups := make(map[string][]string)
	for _, kv := range kvs {
		groups[kv.Key] = append(groups[kv.Key], kv.Value)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]KeyValue, 0, len(keys))
	for _, key := range keys {
		result, err := reducer.Reduce(key, groups[key])
		if err != nil {
			return nil, fmt.Errorf("reduce error for key %s: %w", key, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// SortKeyValues orders kvs by key, then value.
func SortKeyValues(kvs []KeyValue) {
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].Key != kvs[j].Key {
			return kvs[i].Key < kvs[j].Key
		}
		return kvs[i].Value < kvs[j].Value
	})
}
