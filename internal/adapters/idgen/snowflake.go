package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Snowflake issues time-ordered ids for append-heavy rows such as clicks and
// webhook deliveries. Each replica needs its own node number.
type Snowflake struct {
	node *snowflake.Node
}

func NewSnowflake(nodeID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Snowflake{node: node}, nil
}

func (g *Snowflake) NewID() string {
	return g.node.Generate().String()
}
