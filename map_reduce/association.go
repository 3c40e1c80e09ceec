package map_reduce

import (
	"errors"
	"fmt"
	"strings"
)

// KeySeparator joins address and hostname in a composite grouping key.
// It can never appear inside a valid address, so a key always splits at its
// first separator even when the hostname itself contains one.
const KeySeparator = "->"

// OccurrenceValue marks one sighting of an association.
const OccurrenceValue = "1"

var ErrMalformedKey = errors.New("malformed association key")

// Association maps one network address to one hostname.
type Association struct {
	Address  string
	Hostname string
}

func (a Association) String() string {
	return a.Address + "\t" + a.Hostname
}

// EncodeKey builds the composite grouping key for a.
func EncodeKey(a Association) string {
	return a.Address + KeySeparator + a.Hostname
}

// DecodeKey is the inverse of EncodeKey. Any key that EncodeKey could not
// have produced from a parsed line is rejected with ErrMalformedKey.
func DecodeKey(key string) (Association, error) {
	addr, host, ok := strings.Cut(key, KeySeparator)
	if !ok {
		return Association{}, fmt.Errorf("%w: %q has no %q separator", ErrMalformedKey, key, KeySeparator)
	}
	if !ValidAddress(addr) {
		return Association{}, fmt.Errorf("%w: %q has invalid address %q", ErrMalformedKey, key, addr)
	}
	if host == "" {
		return Association{}, fmt.Errorf("%w: %q has empty hostname", ErrMalformedKey, key)
	}
	return Association{Address: addr, Hostname: host}, nil
}

// Emit wraps a candidate association into an occurrence record ready for grouping.
func Emit(a Association) KeyValue {
	return KeyValue{Key: EncodeKey(a), Value: OccurrenceValue}
}

// AsAssociation converts a reduced output record back into an Association.
func AsAssociation(kv KeyValue) Association {
	return Association{Address: kv.Key, Hostname: kv.Value}
}
