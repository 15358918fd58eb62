package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteResponse writes a JSON success envelope.
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{
		Messages: []string{},
		Result:   result,
	})
}

// WriteError writes a JSON error envelope with the error's status code.
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	messages := e.Messages
	if len(messages) == 0 && e.Message != "" {
		messages = []string{e.Message}
	}
	json.NewEncoder(w).Encode(envelope{
		Messages: messages,
		Result:   e.Result,
	})
}
