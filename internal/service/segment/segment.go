// Package segment provides segment ID generation and normalization of raw
// recognition events into transcript segments.
package segment

import (
	"fmt"
	"sync/atomic"
)

// Generator issues process-wide unique segment IDs.
type Generator struct {
	counter uint64
}

func New() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionID string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", sessionID, n)
}
