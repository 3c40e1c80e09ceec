package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ogzhanolguncu/hostess/map_reduce"
	"github.com/stretchr/testify/require"
)

var records = []map_reduce.KeyValue{
	{Key: "127.0.0.1", Value: "localhost"},
	{Key: "::1", Value: "localhost"},
}

func TestFile_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "hosts.txt")
	f := NewFile(path)

	require.NoError(t, f.Write(context.Background(), records))
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1\tlocalhost\n::1\tlocalhost\n", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file left behind")
}

func TestFile_Stdout(t *testing.T) {
	var buf bytes.Buffer
	f := NewFile(Stdout)
	f.out = &buf

	require.NoError(t, f.Write(context.Background(), records[:1]))
	require.Equal(t, "127.0.0.1\tlocalhost\n", buf.String())
}

func TestWriteFileAtomic_FailureKeepsOldFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	boom := errors.New("boom")
	err := WriteFileAtomic(path, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "old\n", string(got))
}

type recordingWriter struct {
	got    []map_reduce.KeyValue
	closed bool
	err    error
}

func (w *recordingWriter) Write(_ context.Context, kvs []map_reduce.KeyValue) error {
	w.got = append(w.got, kvs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestMulti(t *testing.T) {
	a, b := &recordingWriter{}, &recordingWriter{}
	m := Multi{a, b}

	require.NoError(t, m.Write(context.Background(), records))
	require.NoError(t, m.Close())
	require.Equal(t, records, a.got)
	require.Equal(t, records, b.got)
	require.True(t, a.closed)
	require.True(t, b.closed)

	failing := &recordingWriter{err: errors.New("down")}
	after := &recordingWriter{}
	require.Error(t, Multi{failing, after}.Write(context.Background(), records))
	require.Empty(t, after.got)
}
