package highway

import (
	"github.com/zeu5/highway-rl/config"
	"github.com/zeu5/highway-rl/types"
)

// EnvID is the id the scenario is registered under
const EnvID = "highway-construction-v0"

func init() {
	err := types.RegisterEnv(EnvID, func(cfg config.EnvConfig, seed uint64) (types.Environment, error) {
		return NewEnv(cfg, seed), nil
	})
	if err != nil {
		panic(err)
	}
}
