package core

import (
	"encoding/json"
	"net/http"

	"chromasky/internal/types"
)

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error returned to clients.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes data as a JSON response with the given status. If marshalling
// fails it writes a 500 error envelope instead.
func JSON(w http.ResponseWriter, _ *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{Error: ErrorDetail{
			Code:    string(types.ErrCodeInternalUnexpected),
			Message: "failed to marshal response",
		}})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error envelope.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	JSON(w, r, status, APIErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
