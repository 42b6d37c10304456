package errutil

import "net/http"

type CoreStatus string

const (
	StatusUnknown              CoreStatus = "UNKNOWN"
	StatusBadRequest           CoreStatus = "BAD_REQUEST"
	StatusValidationFailed     CoreStatus = "VALIDATION_FAILED"
	StatusUnauthorized         CoreStatus = "UNAUTHORIZED"
	StatusForbidden            CoreStatus = "FORBIDDEN"
	StatusNotFound             CoreStatus = "NOT_FOUND"
	StatusConflict             CoreStatus = "CONFLICT"
	StatusUnsupportedMediaType CoreStatus = "UNSUPPORTED_MEDIA_TYPE"
	StatusUnprocessableEntity  CoreStatus = "UNPROCESSABLE_ENTITY"
	StatusTooManyRequests      CoreStatus = "TOO_MANY_REQUESTS"
	StatusClientClosedRequest  CoreStatus = "CLIENT_CLOSED_REQUEST"
	StatusInternal             CoreStatus = "INTERNAL"
	StatusNotImplemented       CoreStatus = "NOT_IMPLEMENTED"
	StatusBadGateway           CoreStatus = "BAD_GATEWAY"
	StatusServiceUnavailable   CoreStatus = "SERVICE_UNAVAILABLE"
	StatusTimeout              CoreStatus = "TIMEOUT"
	StatusGatewayTimeout       CoreStatus = "GATEWAY_TIMEOUT"

	// Domain statuses.
	StatusInvalidState       CoreStatus = "INVALID_STATE"
	StatusInvalidCode        CoreStatus = "INVALID_CODE"
	StatusOtpExpired         CoreStatus = "OTP_EXPIRED"
	StatusOtpNotFound        CoreStatus = "OTP_NOT_FOUND"
	StatusStorageUnavailable CoreStatus = "STORAGE_UNAVAILABLE"
)

// HTTPStatus converts the CoreStatus to the HTTP status code returned by the REST layer.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound, StatusOtpNotFound:
		return http.StatusNotFound
	case StatusConflict, StatusInvalidState:
		return http.StatusConflict
	case StatusOtpExpired:
		return http.StatusGone
	case StatusUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case StatusUnprocessableEntity, StatusInvalidCode:
		return http.StatusUnprocessableEntity
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusClientClosedRequest:
		return 499
	case StatusNotImplemented:
		return http.StatusNotImplemented
	case StatusBadGateway:
		return http.StatusBadGateway
	case StatusServiceUnavailable, StatusStorageUnavailable:
		return http.StatusServiceUnavailable
	case StatusTimeout, StatusGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is; BaseError.Is matches on Code only.
var (
	ErrNotFound     = BaseError{Code: StatusNotFound}
	ErrInvalidState = BaseError{Code: StatusInvalidState}
	ErrInvalidCode  = BaseError{Code: StatusInvalidCode}
	ErrOtpExpired   = BaseError{Code: StatusOtpExpired}
	ErrOtpNotFound  = BaseError{Code: StatusOtpNotFound}
	ErrValidation   = BaseError{Code: StatusValidationFailed}
	ErrStorage      = BaseError{Code: StatusStorageUnavailable}
)
