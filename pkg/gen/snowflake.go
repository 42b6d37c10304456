package gen

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewSnowflakeNode))

// NewSnowflakeNode reads the node id from NODE_ID, defaulting to 1.
func NewSnowflakeNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if v, ok := os.LookupEnv("NODE_ID"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = n
	}
	return snowflake.NewNode(nodeID)
}

// ID returns prefix_<snowflake>, e.g. inv_1790213456789012480.
func ID(node *snowflake.Node, prefix string) string {
	return prefix + "_" + node.Generate().String()
}
