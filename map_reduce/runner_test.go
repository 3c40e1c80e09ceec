package map_reduce

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHostsRunner(opts ...RunnerOption) *Runner {
	logger := quietLogger()
	opts = append([]RunnerOption{WithLogger(logger)}, opts...)
	return NewRunner(&HostsMapper{Logger: logger}, &HostsReducer{}, opts...)
}

func TestRunner_Run(t *testing.T) {
	runner := newHostsRunner()
	inputs := map[string]string{
		"hosts1": "127.0.0.1\tlocalhost\n::1 localhost ip6-localhost # loopback\n",
		"hosts2": "# shared\n127.0.0.1 localhost\n\n320.1.1.1 broken\n10.0.0.1 db db\n",
	}

	got, err := runner.Run(inputs)
	require.NoError(t, err)
	require.Equal(t, []KeyValue{
		{"10.0.0.1", "db"},
		{"127.0.0.1", "localhost"},
		{"::1", "ip6-localhost"},
		{"::1", "localhost"},
	}, got)
}

func TestRunner_DuplicatesCollapseAcrossPartitions(t *testing.T) {
	inputs := map[string]string{
		"a": "127.0.0.1 localhost\n127.0.0.1 localhost\n10.1.1.1 a b c\n",
		"b": "127.0.0.1 localhost\n10.1.1.1 c b a\n",
		"c": "127.0.0.1 localhost\n",
	}

	want := []KeyValue{
		{"10.1.1.1", "a"},
		{"10.1.1.1", "b"},
		{"10.1.1.1", "c"},
		{"127.0.0.1", "localhost"},
	}

	for _, n := range []int{1, 3, 8} {
		got, err := newHostsRunner(WithPartitions(n), WithParallelism(2)).Run(inputs)
		require.NoError(t, err)
		require.Equal(t, want, got, "partitions=%d", n)
	}
}

func TestRunner_RunFiles(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "hosts1")
	p2 := filepath.Join(dir, "hosts2")
	require.NoError(t, os.WriteFile(p1, []byte("127.0.0.1 localhost\n"), 0o644))
	require.NoError(t, os.WriteFile(p2, []byte("127.0.0.1 localhost\n192.168.0.2 nas\n"), 0o644))

	got, err := newHostsRunner(WithPartitions(2)).RunFiles(context.Background(), []string{p1, p2})
	require.NoError(t, err)
	require.Equal(t, []KeyValue{
		{"127.0.0.1", "localhost"},
		{"192.168.0.2", "nas"},
	}, got)
}

func TestRunner_RunFilesMissing(t *testing.T) {
	_, err := newHostsRunner().RunFiles(context.Background(), []string{filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

type failingMapper struct{}

func (failingMapper) Map(Position, string) ([]KeyValue, error) {
	return nil, errors.New("boom")
}

type badKeyMapper struct{}

func (badKeyMapper) Map(Position, string) ([]KeyValue, error) {
	return []KeyValue{{Key: "no separator", Value: OccurrenceValue}}, nil
}

func TestRunner_Errors(t *testing.T) {
	_, err := NewRunner(failingMapper{}, &HostsReducer{}, WithLogger(quietLogger())).Run(map[string]string{"a": "x\n"})
	require.ErrorContains(t, err, "mapping error")

	_, err = NewRunner(badKeyMapper{}, &HostsReducer{}, WithLogger(quietLogger())).Run(map[string]string{"a": "x\n"})
	require.ErrorIs(t, err, ErrMalformedKey)
	require.ErrorContains(t, err, "reduce error for key")
}
