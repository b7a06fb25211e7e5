package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/keyfold/keyfold-go/api"
)

var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
	ErrServerError  = errors.New("server_error")
)

const (
	errorNameInvalidInput = "invalid_input"
	errorNameUnauthorized = "unauthorized"
	errorNameForbidden    = "forbidden"
	errorNameNotFound     = "not_found"
	errorNameConflict     = "conflict"
	errorNameServerError  = "server_error"
)

func errorByName(name string) error {
	switch name {
	case errorNameInvalidInput:
		return ErrInvalidInput
	case errorNameUnauthorized:
		return ErrUnauthorized
	case errorNameForbidden:
		return ErrForbidden
	case errorNameNotFound:
		return ErrNotFound
	case errorNameConflict:
		return ErrConflict
	case errorNameServerError:
		return ErrServerError
	default:
		return nil
	}
}

// errorNameForStatus maps a bare HTTP status onto a store error name, for
// responses that carry no structured error body.
func errorNameForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errorNameInvalidInput
	case http.StatusUnauthorized:
		return errorNameUnauthorized
	case http.StatusForbidden:
		return errorNameForbidden
	case http.StatusNotFound:
		return errorNameNotFound
	case http.StatusConflict:
		return errorNameConflict
	default:
		return errorNameServerError
	}
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		if known := errorByName(apiErr.Name); known != nil {
			return fmt.Errorf("%w: %s", known, apiErr.Message)
		}
		return fmt.Errorf("%s: %s", apiErr.Name, apiErr.Message)
	}

	return err
}
