package types

import "net/http"

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewStatusErrorResponse maps a failed operation onto an HTTP status code
// and an error payload whose code is the Status name.
func NewStatusErrorResponse(message string, err error) (int, ErrorResponse) {
	s := StatusOf(err)
	return HTTPStatus(s), NewErrorResponse(string(s), message, err.Error())
}

// HTTPStatus picks the response code for a failed operation.
func HTTPStatus(s Status) int {
	switch s {
	case StatusOk:
		return http.StatusOK
	case StatusInvalidArgument, StatusMessageTooLarge:
		return http.StatusBadRequest
	case StatusUnhandled:
		return http.StatusNotFound
	case StatusInvalidState, StatusInvalidOperation, StatusWouldBlock:
		return http.StatusConflict
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusConnectionRefused, StatusConnectionClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
