package rbac

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Envelope is the uniform HTTP response shape for every Boundary endpoint.
// Success responses populate Data; failures populate Message/Details and
// leave Data nil.
type Envelope struct {
	Success   bool        `json:"success"`
	Code      int         `json:"code"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Details   string      `json:"details,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	body.Code = status
	body.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeOK writes a 200 envelope carrying data.
func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// writeCreated writes a 201 envelope carrying data.
func writeCreated(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// writeError translates a classified *Error into its HTTP status and an
// error envelope. Any other error is reported as an opaque internal error —
// its detail is logged by the caller, never leaked to the client.
func writeError(w http.ResponseWriter, err error) {
	var rerr *Error
	if errors.As(err, &rerr) {
		writeJSON(w, rerr.Kind.Status(), Envelope{
			Success: false,
			Message: rerr.Kind.String(),
			Details: rerr.Message,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, Envelope{
		Success: false,
		Message: "Internal",
		Details: "an unexpected error occurred",
	})
}
