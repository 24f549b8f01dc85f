package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"inference_gateway/internal/apierr"
)

// errorBody is the OpenAI-style error envelope every route returns.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return err
	}
	return nil
}

// WriteError maps a typed error to its HTTP status and a safe message.
// Untyped errors collapse to 500 with a generic body; internals never
// leak. Rate-limited errors carry a Retry-After hint.
func WriteError(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)

	var typed *apierr.Error
	if errors.As(err, &typed) && typed.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(typed.RetryAfterSeconds))
	}

	_ = RespondWithJSON(w, apierr.Status(err), errorBody{
		Error: errorDetail{
			Message: apierr.Message(err),
			Type:    string(kind),
		},
	})
}

// DecodeJSONBody decodes a bounded JSON request body.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return apierr.New(apierr.KindValidation, "invalid JSON body")
	}
	return nil
}
