// Package server provides the HTTP server for the media ingest API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// ImageUploadResponse is the HTTP response after a successful image upload.
type ImageUploadResponse struct {
	// PublicID is the id the remote storage service assigned to the image.
	PublicID string `json:"publicId"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
