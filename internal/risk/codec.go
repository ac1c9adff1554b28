package risk

import (
	"encoding/json"

	"github.com/atlas-desktop/trading-core/pkg/types"
)

func encodeThrottleState(state types.RiskThrottleState) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeThrottleState(raw string, out *types.RiskThrottleState) error {
	return json.Unmarshal([]byte(raw), out)
}
