package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// StatusClientClosedRequest is reported when the caller went away mid-request.
const StatusClientClosedRequest = 499

// envelope is the body of every JSON response.
type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

var httpStatus = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.Canceled:           StatusClientClosedRequest,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
}

// HTTPStatus maps a gRPC status code to the HTTP status returned to clients.
func HTTPStatus(c codes.Code) int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, envelope{Message: message, Error: errCode})
}

// writeError renders a worker failure. Only the status message reaches the client.
func writeError(w http.ResponseWriter, err error) {
	var we *workerError
	if errors.As(err, &we) {
		st := we.st
		msg := st.Message()
		if st.Code() == codes.DeadlineExceeded {
			msg = "auth service timed out, please retry"
		}
		if st.Code() == codes.Unavailable {
			msg = "auth service unavailable, please retry"
		}
		code := we.code
		if code == "" {
			code = st.Code().String()
		}
		writeFail(w, HTTPStatus(st.Code()), code, msg)
		return
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeFail(w, http.StatusGatewayTimeout, codes.DeadlineExceeded.String(), "auth service timed out, please retry")
	case errors.Is(err, context.Canceled):
		writeFail(w, StatusClientClosedRequest, codes.Canceled.String(), "request cancelled")
	default:
		writeFail(w, http.StatusInternalServerError, codes.Internal.String(), "internal error")
	}
}

// workerError is a failed worker call with its machine code, if the worker sent one.
type workerError struct {
	st   *status.Status
	code string
}

func (e *workerError) Error() string { return e.st.Message() }
