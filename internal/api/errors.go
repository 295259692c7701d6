package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/camcore/internal/status"
)

// httpStatus maps an engine result code to an HTTP status.
func httpStatus(code status.Code) int {
	switch code {
	case status.CodeBadParam:
		return http.StatusBadRequest
	case status.CodeBadHandle:
		return http.StatusNotFound
	case status.CodeBadState:
		return http.StatusConflict
	case status.CodeNoMore:
		return http.StatusTooManyRequests
	case status.CodeTimeout:
		return http.StatusRequestTimeout
	case status.CodeResourceNotFound:
		return http.StatusServiceUnavailable
	case status.CodeUnsupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// toHTTPError converts an engine error into a huma status error.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}
	code := status.CodeOf(err)
	return huma.NewError(httpStatus(code), string(code), err)
}
