// Command hostess combines and flattens hosts files into a deduplicated set
// of address/hostname associations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ogzhanolguncu/hostess/config"
	"github.com/ogzhanolguncu/hostess/distributed"
	"github.com/ogzhanolguncu/hostess/map_reduce"
	"github.com/ogzhanolguncu/hostess/sink"
	"go.opentelemetry.io/otel"
)

const jobName = "Combine and flatten HOSTS files"

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "hostess: %v\n", err)
		return 2
	}

	logger := config.NewLogger(cfg.Log, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	if d := cfg.GetTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	switch cfg.Mode {
	case config.ModeCoordinator:
		err = runCoordinator(ctx, cfg, logger)
	case config.ModeWorker:
		err = runWorkers(ctx, cfg, logger)
	default:
		err = runLocal(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("job failed", "job", jobName, "error", err)
		return 1
	}
	return 0
}

func parseConfig(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("hostess", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "%s\n\nUsage: hostess [flags] <input>... <output>\n\n", jobName)
		fs.PrintDefaults()
	}

	var (
		configPath      = fs.String("config", "", "YAML config file")
		mode            = fs.String("mode", "", "local, coordinator or worker")
		coordinatorMode = fs.Bool("coordinator", false, "Run as coordinator (same as -mode=coordinator)")
		coordinatorAddr = fs.String("addr", "", "Coordinator address")
		nReduce         = fs.Int("reduce", 0, "Number of reduce tasks")
		inputFiles      = fs.String("input", "", "Comma-separated list of input files or directories")
		output          = fs.String("output", "", "Output file, - for stdout")
		intermediateDir = fs.String("intermediate-dir", "", "Directory for intermediate files")
		partitionDir    = fs.String("partition-dir", "", "Directory for per-partition mr-out files")
		nWorkers        = fs.Int("workers", 0, "Number of workers to spawn (defaults to number of CPU cores)")
		timeout         = fs.String("timeout", "", "Abort the job after this duration")
		logLevel        = fs.String("log-level", "", "debug, info, warn or error")
		logFormat       = fs.String("log-format", "", "text or json")
		redisURL        = fs.String("redis-url", "", "Also store associations in this Redis")
		redisKey        = fs.String("redis-key", "", "Redis set key")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["mode"] {
		cfg.Mode = *mode
	}
	if *coordinatorMode {
		cfg.Mode = config.ModeCoordinator
	}
	if set["addr"] {
		cfg.Coordinator = *coordinatorAddr
	}
	if set["reduce"] {
		cfg.Reduce = *nReduce
	}
	if set["input"] {
		cfg.Inputs = splitList(*inputFiles)
	}
	if set["output"] {
		cfg.Output = *output
	}
	if set["intermediate-dir"] {
		cfg.IntermediateDir = *intermediateDir
	}
	if set["partition-dir"] {
		cfg.PartitionDir = *partitionDir
	}
	if set["workers"] {
		cfg.Workers = *nWorkers
	}
	if set["timeout"] {
		cfg.Timeout = *timeout
	}
	if set["log-level"] {
		cfg.Log.Level = *logLevel
	}
	if set["log-format"] {
		cfg.Log.Format = *logFormat
	}
	if set["redis-url"] {
		if cfg.Redis == nil {
			cfg.Redis = &config.RedisConfig{}
		}
		cfg.Redis.URL = *redisURL
	}
	if set["redis-key"] && cfg.Redis != nil {
		cfg.Redis.Key = *redisKey
	}

	// Positional form: <input>... <output>
	if rest := fs.Args(); len(rest) > 0 {
		// The last argument names the output unless inputs would be left empty.
		takesOutput := cfg.Mode == config.ModeLocal || cfg.Mode == config.ModeCoordinator
		if cfg.Output == "" && takesOutput && (len(rest) > 1 || len(cfg.Inputs) > 0) {
			cfg.Output = rest[len(rest)-1]
			rest = rest[:len(rest)-1]
		}
		cfg.Inputs = append(cfg.Inputs, rest...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// expandInputs replaces directories with the regular files directly inside
// them, skipping hidden ("." or "_" prefixed) entries.
func expandInputs(inputs []string) ([]string, error) {
	var files []string
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("input path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, in)
			continue
		}

		entries, err := os.ReadDir(in)
		if err != nil {
			return nil, fmt.Errorf("input path: %w", err)
		}
		var dirFiles []string
		for _, e := range entries {
			name := e.Name()
			if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				continue
			}
			dirFiles = append(dirFiles, filepath.Join(in, name))
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}
	return files, nil
}

func newMetrics() (*map_reduce.Metrics, error) {
	return map_reduce.NewMetrics(otel.Meter("github.com/ogzhanolguncu/hostess"))
}

func openSinks(cfg *config.Config) (sink.Multi, error) {
	var writers sink.Multi
	if cfg.Output != "" {
		writers = append(writers, sink.NewFile(cfg.Output))
	}
	if cfg.Redis != nil && cfg.Redis.URL != "" {
		r, err := sink.NewRedis(sink.RedisOptions{URL: cfg.Redis.URL, Key: cfg.Redis.Key})
		if err != nil {
			return nil, err
		}
		writers = append(writers, r)
	}
	return writers, nil
}

func writeResults(ctx context.Context, cfg *config.Config, results []map_reduce.KeyValue) error {
	writers, err := openSinks(cfg)
	if err != nil {
		return err
	}
	if err := writers.Write(ctx, results); err != nil {
		writers.Close()
		return err
	}
	return writers.Close()
}

func runLocal(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	inputs, err := expandInputs(cfg.Inputs)
	if err != nil {
		return err
	}
	metrics, err := newMetrics()
	if err != nil {
		return err
	}

	runner := map_reduce.NewRunner(
		&map_reduce.HostsMapper{Logger: logger, Metrics: metrics},
		&map_reduce.HostsReducer{Metrics: metrics},
		map_reduce.WithPartitions(cfg.Reduce),
		map_reduce.WithParallelism(cfg.Workers),
		map_reduce.WithLogger(logger),
	)

	start := time.Now()
	results, err := runner.RunFiles(ctx, inputs)
	if err != nil {
		return err
	}
	logger.Info("job complete", "inputs", len(inputs), "associations", len(results), "elapsed", time.Since(start))

	return writeResults(ctx, cfg, results)
}

func runCoordinator(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	inputs, err := expandInputs(cfg.Inputs)
	if err != nil {
		return err
	}

	coordinator, err := distributed.NewCoordinator(cfg.Reduce, inputs, cfg.IntermediateDir, cfg.PartitionDir,
		distributed.WithCoordinatorLogger(logger))
	if err != nil {
		return err
	}
	if err := coordinator.Start(cfg.Coordinator); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	defer coordinator.Cleanup()

	select {
	case <-coordinator.Done():
	case <-ctx.Done():
		return fmt.Errorf("coordinator interrupted: %w", context.Cause(ctx))
	}
	if err := coordinator.Err(); err != nil {
		return err
	}

	return writeResults(ctx, cfg, coordinator.Results())
}

func runWorkers(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting worker processes", "count", cfg.Workers)

	metrics, err := newMetrics()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	workerErrors := make(chan error, cfg.Workers)

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()

			worker := distributed.NewWorker(
				&map_reduce.HostsMapper{Logger: logger, Metrics: metrics},
				&map_reduce.HostsReducer{Metrics: metrics},
				distributed.WithWorkerLogger(logger),
			)

			// Stagger starts so registrations do not arrive all at once
			select {
			case <-time.After(time.Duration(workerNum*100) * time.Millisecond):
			case <-ctx.Done():
				return
			}

			err := worker.Register(ctx, cfg.Coordinator)
			if err != nil && !errors.Is(err, context.Canceled) {
				workerErrors <- fmt.Errorf("worker %d error: %w", workerNum, err)
				cancel() // Cancel other workers if one fails
			}
		}(i)
	}

	wg.Wait()
	close(workerErrors)

	var errs []error
	for err := range workerErrors {
		errs = append(errs, err)
	}
	logger.Info("all workers shutdown complete")
	return errors.Join(errs...)
}
