package client

import (
	"fmt"
	"net/http"

	"github.com/Sternrassler/gallery-fetch/pkg/apperr"
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents undecodable response bodies.
	ErrorClassParse ErrorClass = "parse"
)

// StatusError is a non-2xx response from the gallery site.
type StatusError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("gallery %s error (status %d): %s", e.ErrorClass, e.StatusCode, e.Message)
}

// classifyStatus maps a response status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// kindFor maps an error class and status to the kind shown to the user.
// Only a 404 is "not found"; every other HTTP failure reads as a network
// problem the user can retry.
func kindFor(class ErrorClass, status int) apperr.Kind {
	switch {
	case class == ErrorClassParse:
		return apperr.KindParse
	case status == http.StatusNotFound:
		return apperr.KindNotFound
	default:
		return apperr.KindNetwork
	}
}
