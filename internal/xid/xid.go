package xid

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const (
	PrefixCategory = "cat"
	PrefixItem     = "item"
	PrefixInvoice  = "inv"
)

// Generator issues prefixed, time-ordered ids from one snowflake node.
type Generator struct {
	node *snowflake.Node
}

func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) New(prefix string) string {
	return prefix + "_" + g.node.Generate().String()
}

var (
	defaultOnce sync.Once
	defaultGen  *Generator
)

// SetDefault replaces the generator used by New. Call it once at startup
// before any id is issued.
func SetDefault(g *Generator) {
	defaultOnce.Do(func() {})
	defaultGen = g
}

func New(prefix string) string {
	defaultOnce.Do(func() {
		if defaultGen != nil {
			return
		}
		g, err := NewGenerator(1)
		if err != nil {
			panic(err)
		}
		defaultGen = g
	})
	return defaultGen.New(prefix)
}
