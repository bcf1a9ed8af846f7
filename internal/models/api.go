package models

import "fmt"

// APIError is the {"code","message"} object the backend returns under "error".
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type ErrorResponse struct {
	Error *APIError `json:"error"`
}

type CaptureResponse struct {
	ClientSecret string `json:"client_secret"`
	ID           string `json:"id"`
}

type ConnectionToken struct {
	Secret string `json:"secret"`
}
