package hlsproxy

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

type clearResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Cleared int    `json:"cleared"`
}

// ClearCache empties the segment store, the key store or both when no type
// is given.
func (m *ManagerCtx) ClearCache(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")

	var clearSegments, clearKeys bool
	switch kind {
	case "":
		clearSegments, clearKeys = true, true
	case "ts":
		clearSegments = true
	case "key":
		clearKeys = true
	default:
		http.Error(w, fmt.Sprintf("Unknown cache type %q", kind), http.StatusBadRequest)
		return
	}

	count := 0
	if clearSegments {
		count += m.segments.Store.Clear()
	}
	if clearKeys {
		count += m.keys.Store.Clear()
	}

	m.logger.Info().Str("type", kind).Int("cleared", count).Msg("cache cleared")

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(clearResponse{
		Success: true,
		Message: fmt.Sprintf("Cleared %d cache entries", count),
		Cleared: count,
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("unable to write response")
	}
}
