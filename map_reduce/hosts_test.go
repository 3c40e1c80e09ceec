package map_reduce

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// warnRecorder captures warn records emitted by the mapper.
type warnRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *warnRecorder) Enabled(_ context.Context, l slog.Level) bool { return l >= slog.LevelWarn }

func (h *warnRecorder) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *warnRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *warnRecorder) WithGroup(string) slog.Handler      { return h }

func (h *warnRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func newTestMapper(t *testing.T) (*HostsMapper, *warnRecorder) {
	t.Helper()
	rec := &warnRecorder{}
	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	return &HostsMapper{Logger: slog.New(rec), Metrics: metrics}, rec
}

var origin = Position{Source: "hosts"}

func TestHostsMapper_SilentlySkipped(t *testing.T) {
	for _, line := range []string{
		"",
		"     \t      ",
		"\t",
		" ",
		"#",
		"\t#",
		" #",
		" #this is a comment line",
		" # this is a comment line",
	} {
		t.Run(line, func(t *testing.T) {
			m, rec := newTestMapper(t)
			got, err := m.Map(origin, line)
			require.NoError(t, err)
			require.Empty(t, got)
			require.Zero(t, rec.count())
		})
	}
}

func TestHostsMapper_InvalidAddress(t *testing.T) {
	for _, line := range []string{
		"320.1.1.1",
		"\t320.1.1.1\thostname",
		"\tfe80::1%lo0",
		"fe80::1%lo0 localhost loopback",
		"\tge80::1\thostname",
		"localhost 127.0.0.1",
	} {
		t.Run(line, func(t *testing.T) {
			m, rec := newTestMapper(t)
			got, err := m.Map(origin, line)
			require.NoError(t, err)
			require.Empty(t, got)
			require.Equal(t, 1, rec.count())

			_, perr := ParseLine(line)
			require.ErrorIs(t, perr, ErrInvalidAddress)
		})
	}
}

func TestHostsMapper_OnlyAddress(t *testing.T) {
	for _, line := range []string{
		"120.1.1.1",
		"\t120.1.1.1\t",
		"\tfe80::1",
		"     fe80::1    \t",
		"120.1.1.1 #this is a comment",
		"\t120.1.1.1\t# this is a comment",
		"\tfe80::1 #this is a comment",
		"     fe80::1    \t   # this is a comment",
	} {
		t.Run(line, func(t *testing.T) {
			m, rec := newTestMapper(t)
			got, err := m.Map(origin, line)
			require.NoError(t, err)
			require.Empty(t, got)
			require.Equal(t, 1, rec.count())

			_, perr := ParseLine(line)
			require.ErrorIs(t, perr, ErrNoHostnames)
		})
	}
}

func TestHostsMapper_ValidLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []KeyValue
	}{
		{
			name: "single hostname",
			line: "127.0.0.1\tlocalhost",
			want: []KeyValue{{"127.0.0.1->localhost", "1"}},
		},
		{
			name: "two hostnames",
			line: "\t::1\tlocalhost\thostname",
			want: []KeyValue{{"::1->localhost", "1"}, {"::1->hostname", "1"}},
		},
		{
			name: "trailing comment",
			line: "128.0.0.1\tlocalhost    # this is a comment",
			want: []KeyValue{{"128.0.0.1->localhost", "1"}},
		},
		{
			name: "two hostnames and comment",
			line: "\t::1\tlocalhost\thostname\t#this is a comment",
			want: []KeyValue{{"::1->localhost", "1"}, {"::1->hostname", "1"}},
		},
		{
			name: "comment truncates the rest",
			line: "10.0.0.1 a b #c d e",
			want: []KeyValue{{"10.0.0.1->a", "1"}, {"10.0.0.1->b", "1"}},
		},
		{
			name: "hash inside a hostname is not a comment",
			line: "10.0.0.1 a#b",
			want: []KeyValue{{"10.0.0.1->a#b", "1"}},
		},
		{
			name: "non-ASCII space stays inside a hostname",
			line: "10.0.0.1 a\u00a0b\u2003c",
			want: []KeyValue{{"10.0.0.1->a\u00a0b\u2003c", "1"}},
		},
		{
			name: "vertical tab and form feed separate",
			line: "10.0.0.1\va\fb",
			want: []KeyValue{{"10.0.0.1->a", "1"}, {"10.0.0.1->b", "1"}},
		},
		{
			name: "leading control characters are trimmed",
			line: "\x00\x1f10.0.0.1 host\x01",
			want: []KeyValue{{"10.0.0.1->host", "1"}},
		},
		{
			name: "carriage return",
			line: "10.0.0.1 host\r",
			want: []KeyValue{{"10.0.0.1->host", "1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, rec := newTestMapper(t)
			got, err := m.Map(origin, tt.line)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Zero(t, rec.count())
		})
	}
}

func TestHostsMapper_WarningCarriesPosition(t *testing.T) {
	m, rec := newTestMapper(t)
	_, err := m.Map(Position{Source: "etc/hosts", Line: 7, Offset: 120}, "320.1.1.1 host")
	require.NoError(t, err)
	require.Equal(t, 1, rec.count())

	attrs := map[string]string{}
	rec.records[0].Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	require.Equal(t, "etc/hosts:7 (offset 120)", attrs["pos"])
	require.Equal(t, "invalid_address", attrs["reason"])
	require.Contains(t, attrs["error"], "320.1.1.1")
}

func TestHostsReducer(t *testing.T) {
	r := &HostsReducer{}

	tests := []struct {
		name   string
		key    string
		want   KeyValue
		values []string
	}{
		{
			name:   "single record",
			key:    "::1->localhost",
			values: []string{"1"},
			want:   KeyValue{"::1", "localhost"},
		},
		{
			name:   "grouped records",
			key:    "127.0.0.1->localhost",
			values: []string{"1", "1"},
			want:   KeyValue{"127.0.0.1", "localhost"},
		},
		{
			name:   "many records",
			key:    "127.0.0.1->localhost",
			values: []string{"1", "1", "1", "1", "1"},
			want:   KeyValue{"127.0.0.1", "localhost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Reduce(tt.key, tt.values)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestHostsReducer_MalformedKey(t *testing.T) {
	r := &HostsReducer{}
	_, err := r.Reduce("127.0.0.1 localhost", []string{"1"})
	require.ErrorIs(t, err, ErrMalformedKey)
}
