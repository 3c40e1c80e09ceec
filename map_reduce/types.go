package map_reduce

import "fmt"

type KeyValue struct {
	Key   string
	Value string
}

// Position identifies where a raw line came from. It is only used for diagnostics.
type Position struct {
	Source string
	Offset int64
	Line   int
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d (offset %d)", p.Source, p.Line, p.Offset)
}

type Mapper interface {
	Map(pos Position, line string) ([]KeyValue, error)
}

type Reducer interface {
	Reduce(key string, values []string) (KeyValue, error)
}
