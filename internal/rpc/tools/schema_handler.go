package tools

import (
	"encoding/json"
	"net/http"

	"github.com/animus-coder/codevet/internal/tools"
)

// SchemaHandler serves the tool catalog as JSON. A name query returns a single entry.
type SchemaHandler struct {
	Catalog *tools.Catalog
}

// ServeHTTP renders schemas.
func (h SchemaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Catalog == nil {
		http.Error(w, "tool catalog unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if name := r.URL.Query().Get("name"); name != "" {
		schema, ok := h.Catalog.Schema(name)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown tool " + name})
			return
		}
		_ = json.NewEncoder(w).Encode(schema)
		return
	}
	_ = json.NewEncoder(w).Encode(h.Catalog.Schemas())
}
