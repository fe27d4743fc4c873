package cache

import (
	"context"

	"github.com/wireit-go/wireit/internal/graph"
)

// None is the no-op backend selected by WIREIT_CACHE=none (§6's default
// when CI=true). Every Get is a clean miss; every Set is a no-op.
type None struct{}

func (None) Get(context.Context, graph.ScriptReference, string) (Hit, bool, error) {
	return nil, false, nil
}

func (None) Set(context.Context, graph.ScriptReference, string, []string) (bool, error) {
	return false, nil
}
