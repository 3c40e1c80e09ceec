package map_reduce

import (
	"bufio"
	"errors"
	"hash/fnv"
	"io"
	"strings"
)

// ScanLines calls fn for every line in r with its position. Lines may be of
// any length; "\n" and "\r\n" endings are stripped and a final unterminated
// line is still delivered.
func ScanLines(r io.Reader, source string, fn func(Position, string) error) error {
	br := bufio.NewReader(r)
	pos := Position{Source: source}

	for {
		raw, err := br.ReadString('\n')
		if len(raw) > 0 {
			pos.Line++
			line := strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
			if ferr := fn(pos, line); ferr != nil {
				return ferr
			}
			pos.Offset += int64(len(raw))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Partition returns the reduce partition for key. All occurrences of a key
// share one partition.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return ihash(key) % n
}

// ihash returns a hash value for a key
func ihash(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() & 0x7fffffff)
}
