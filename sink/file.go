package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ogzhanolguncu/hostess/map_reduce"
)

// Stdout is the path that selects standard output.
const Stdout = "-"

// File writes one "address<TAB>hostname" line per record.
type File struct {
	path string
	out  io.Writer
}

// NewFile returns a writer for path. Files are replaced atomically on Write.
func NewFile(path string) *File {
	return &File{path: path, out: os.Stdout}
}

func (f *File) Write(ctx context.Context, kvs []map_reduce.KeyValue) error {
	if f.path == Stdout {
		return writeRecords(ctx, f.out, kvs)
	}
	return WriteFileAtomic(f.path, func(w io.Writer) error {
		return writeRecords(ctx, w, kvs)
	})
}

func (f *File) Close() error { return nil }

func writeRecords(ctx context.Context, w io.Writer, kvs []map_reduce.KeyValue) error {
	bw := bufio.NewWriter(w)
	for i, kv := range kvs {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(bw, "%v\t%v\n", kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFileAtomic writes path through a temp file in the same directory and
// renames it into place, so readers never see a partial file.
func WriteFileAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
