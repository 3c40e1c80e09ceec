package map_reduce

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const commentMarker = "#"

var (
	ErrInvalidAddress = errors.New("not a valid address")
	ErrNoHostnames    = errors.New("record only contains an address")
)

// ParseLine extracts the associations on one hosts-file line.
//
// Blank and comment lines yield nothing and no error. A line whose first
// token is not an address, or that has no hostname before the first comment
// token, yields ErrInvalidAddress or ErrNoHostnames; callers treat both as
// warnings. Everything from the first "#" token onward is comment.
func ParseLine(line string) ([]Association, error) {
	tokens := strings.FieldsFunc(strings.TrimFunc(line, isControlOrSpace), isASCIISpace)
	if len(tokens) == 0 {
		return nil, nil
	}

	first := tokens[0]
	if strings.HasPrefix(first, commentMarker) {
		return nil, nil
	}
	if !ValidAddress(first) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, first)
	}
	if len(tokens) == 1 {
		return nil, fmt.Errorf("%w: %s", ErrNoHostnames, first)
	}
	if strings.HasPrefix(tokens[1], commentMarker) {
		return nil, fmt.Errorf("%w (with inline comment): %s", ErrNoHostnames, first)
	}

	var out []Association
	for _, tok := range tokens[1:] {
		if strings.HasPrefix(tok, commentMarker) {
			break
		}
		out = append(out, Association{Address: first, Hostname: tok})
	}
	return out, nil
}

// isControlOrSpace matches what is trimmed from both ends of a line:
// ASCII space and every control character below it.
func isControlOrSpace(r rune) bool {
	return r <= ' '
}

// isASCIISpace matches the token separators. Non-ASCII spaces such as
// U+00A0 stay inside tokens.
func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// HostsMapper turns hosts-file lines into association occurrences.
// Malformed lines are logged at warn level and skipped.
type HostsMapper struct {
	Logger  *slog.Logger
	Metrics *Metrics
}

func (m *HostsMapper) Map(pos Position, line string) ([]KeyValue, error) {
	assocs, err := ParseLine(line)
	m.Metrics.line(len(assocs))
	if err != nil {
		m.warn(pos, err)
		return nil, nil
	}

	kvs := make([]KeyValue, 0, len(assocs))
	for _, a := range assocs {
		kvs = append(kvs, Emit(a))
	}
	return kvs, nil
}

func (m *HostsMapper) warn(pos Position, err error) {
	reason := "invalid_address"
	if errors.Is(err, ErrNoHostnames) {
		reason = "no_hostnames"
	}
	m.Metrics.warning(reason)

	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("skipping line", "pos", pos.String(), "reason", reason, "error", err)
}

// HostsReducer collapses every occurrence of an association into one record
// keyed by address with the hostname as value. The occurrence count is ignored.
type HostsReducer struct {
	Metrics *Metrics
}

func (r *HostsReducer) Reduce(key string, values []string) (KeyValue, error) {
	a, err := DecodeKey(key)
	if err != nil {
		return KeyValue{}, err
	}
	r.Metrics.association()
	return KeyValue{Key: a.Address, Value: a.Hostname}, nil
}
