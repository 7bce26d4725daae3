package api

import (
	"encoding/json"
	"net/http"
)

// Envelope wraps every successful payload as {"success": true, "data": ...}.
type Envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes data inside a success envelope.
func WriteData[T any](w http.ResponseWriter, status int, data T) {
	WriteJSON(w, status, Envelope[T]{Success: true, Data: data})
}
