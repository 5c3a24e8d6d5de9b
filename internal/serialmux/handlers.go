package serialmux

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/banshee-data/speedwatch/internal/monitoring"
)

var (
	boardStateMu sync.Mutex
	boardState   = map[string]any{}
)

// HandleStatus merges a status line from the board (temperature, model
// name, fps and so on) into the board state shown on the admin page.
func HandleStatus(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal status line: %w", err)
	}
	boardStateMu.Lock()
	maps.Copy(boardState, values)
	boardStateMu.Unlock()
	monitoring.Logf("[serialmux] board status: %s", payload)
	return nil
}

// BoardState returns the merged status values as JSON.
func BoardState() []byte {
	boardStateMu.Lock()
	defer boardStateMu.Unlock()
	b, err := json.Marshal(boardState)
	if err != nil {
		return []byte("{}")
	}
	return b
}
