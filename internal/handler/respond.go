package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func errorResponse(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

func validationResponse(fields map[string][]string) map[string]any {
	return map[string]any{
		"success": false,
		"error":   "validation failed",
		"errors":  fields,
	}
}
