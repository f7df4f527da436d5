package embedding

import (
	"net/http"

	"tailorcv/backend/internal/fault"
)

// ClassifyHTTP maps a provider HTTP status to a fault kind. Providers call
// it with the status they extracted from their SDK's error type.
func ClassifyHTTP(op string, status int, err error) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return fault.Transient(op, err)
	case status == http.StatusRequestEntityTooLarge:
		return fault.ResourceExhausted(op, err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return fault.New(fault.KindConfig, op, err)
	case status >= 400:
		return fault.Malformed(op, err)
	default:
		return fault.New(fault.KindOf(err), op, err)
	}
}
