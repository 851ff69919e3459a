package write

import "fmt"

// MissingPoolError reports a partition the delta touches that has no
// configured connection pool. It is detected before any I/O; the whole write
// is aborted rather than partially applied.
type MissingPoolError struct {
	Partition string
}

func (e *MissingPoolError) Error() string {
	return fmt.Sprintf("write: no pool configured for partition %q", e.Partition)
}
