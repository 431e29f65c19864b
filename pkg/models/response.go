package models

// ErrorResponse is the JSON body returned for HTTP errors.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
