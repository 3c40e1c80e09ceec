// Package sink writes final associations to their destination.
package sink

import (
	"context"

	"github.com/ogzhanolguncu/hostess/map_reduce"
)

// Writer receives the reduced (address, hostname) records of a job.
type Writer interface {
	Write(ctx context.Context, kvs []map_reduce.KeyValue) error
	Close() error
}

// Multi fans every write out to all writers, stopping at the first error.
type Multi []Writer

func (m Multi) Write(ctx context.Context, kvs []map_reduce.KeyValue) error {
	for _, w := range m {
		if err := w.Write(ctx, kvs); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Close() error {
	var first error
	for _, w := range m {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
