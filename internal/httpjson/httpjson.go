package httpjson

import (
	"encoding/json"
	"net/http"
)

func Write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	Write(w, status, map[string]string{"error": message})
}

// WriteCodedError ajoute un code stable exploitable par l'UI.
func WriteCodedError(w http.ResponseWriter, status int, code, message string) {
	Write(w, status, map[string]string{"error": message, "code": code})
}
