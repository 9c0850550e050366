//go:build !unix

package coord

// Flock falls back to in-process coordination on platforms without flock(2).
type Flock struct {
	*Local
}

// NewFlock returns an in-process coordinator; lockDir is unused.
func NewFlock(_ string) (*Flock, error) {
	return &Flock{Local: NewLocal()}, nil
}
