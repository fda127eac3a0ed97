package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/service"
)

func invalidArgumentError(message string) *service.ServiceError {
	return &service.ServiceError{
		Code:    "INVALID_ARGUMENT",
		Message: message,
	}
}

func writeInvalidArgument(w http.ResponseWriter, r *http.Request, message string) {
	writeServiceError(w, r, invalidArgumentError(message))
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := "request body too large"
	if limit > 0 {
		msg = "request body too large (max " + strconv.FormatInt(limit, 10) + " bytes)"
	}
	WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msg)
}

func writeDecodeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		writePayloadTooLarge(w, tooLarge.Limit)
		return
	}
	writeInvalidArgument(w, r, err.Error())
}

// writeServiceError maps a service error to its HTTP response and notes it
// for the capture middleware. Anything that is not a *service.ServiceError
// is wrapped as UNKNOWN_ERROR and served as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}

	var svcErr *service.ServiceError
	if !errors.As(err, &svcErr) {
		svcErr = &service.ServiceError{
			Code:        string(service.CodeUnknownError),
			Message:     err.Error(),
			TimestampNs: time.Now().UnixNano(),
			Err:         err,
		}
	}
	noteError(r, svcErr)

	detail := ErrorDetail{
		Code:              svcErr.Code,
		Message:           svcErr.Message,
		Endpoint:          svcErr.Endpoint,
		HTTPStatus:        svcErr.HTTPStatus(),
		Details:           svcErr.Details,
		RecoveryAction:    svcErr.RecoveryAction,
		FallbackAvailable: svcErr.FallbackAvailable,
		CooldownSeconds:   svcErr.CooldownSeconds,
		RequestID:         RequestIDFromContext(r.Context()),
		TimestampNs:       svcErr.TimestampNs,
	}
	if detail.TimestampNs == 0 {
		detail.TimestampNs = time.Now().UnixNano()
	}
	WriteJSON(w, detail.HTTPStatus, ErrorResponse{Error: detail})
}
