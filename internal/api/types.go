package api

import "encoding/json"

const MaxInputBytes = 256 * 1024

const (
	ErrInvalidJSON       = "invalid_json"
	ErrMissingDefinition = "missing_definition"
	ErrInputTooLarge     = "input_too_large"
	ErrUnknownDefinition = "unknown_definition"
	ErrNotFound          = "not_found"
	ErrStore             = "store_error"
	ErrSubmit            = "submit_failed"
)

type SubmitRequest struct {
	Definition string          `json:"definition"`
	Input      json.RawMessage `json:"input"`
}

type SubmitResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
