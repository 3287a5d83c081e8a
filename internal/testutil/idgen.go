package testutil

import (
	"fmt"
	"sync/atomic"

	"newswave/internal/nw"
)

// StubIDGenerator returns sequential IDs: "id-1", "id-2", etc.
type StubIDGenerator struct {
	counter atomic.Int64
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	return fmt.Sprintf("id-%d", g.counter.Add(1))
}

// Issued returns how many IDs were handed out.
func (g *StubIDGenerator) Issued() int {
	return int(g.counter.Load())
}

// Compile-time check that StubIDGenerator implements nw.IDGenerator interface
var _ nw.IDGenerator = (*StubIDGenerator)(nil)
