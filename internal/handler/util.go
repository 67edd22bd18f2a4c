// Package handler implements the HTTP API surface.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aurelia-ai/multichat/internal/entitlement"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// rejectionStatus maps a stable entitlement rejection code to an HTTP
// status. Extension clients branch on the code, not the status.
func rejectionStatus(code string) int {
	switch code {
	case entitlement.CodeDailyRequestLimit:
		return http.StatusTooManyRequests
	case entitlement.CodeInsufficientCreds:
		return http.StatusPaymentRequired
	case entitlement.CodeModelNotAllowed:
		return http.StatusForbidden
	case entitlement.CodeModelNotFound:
		return http.StatusNotFound
	case entitlement.CodeInputTooLong:
		return http.StatusRequestEntityTooLarge
	case entitlement.CodeModelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeRejection(w http.ResponseWriter, rej *entitlement.Rejection) {
	writeJSON(w, rejectionStatus(rej.Code), rej)
}

// sendSSEEvent writes one server-sent event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}
