// Package handlers implements the admin HTTP endpoints. Handlers are
// transport-thin: they validate path and body, call a service and map the
// result onto JSON or the error envelope.
//
// Every failure is answered as
//
//	{"request_id": "...", "code": "flow_not_found", "message": "flow not found"}
//
// Clients branch on code; message is for humans.
package handlers

import (
	"errors"
	"net/http"

	"github.com/tbourn/rolegate/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeInternal         = "internal_error"

	ErrCodeFlowNotFound      = "flow_not_found"
	ErrCodeFlowExists        = "flow_exists"
	ErrCodeRoleInUse         = "role_in_use"
	ErrCodeInvalidFlow       = "invalid_flow"
	ErrCodeNotOnboarding     = "not_onboarding"
	ErrCodeRoleRestoreFailed = "role_restore_failed"
)

// serviceError maps a service error onto a status and code. Unknown errors
// are internal and their text is not echoed.
func serviceError(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, services.ErrFlowNotFound):
		return http.StatusNotFound, ErrCodeFlowNotFound, "flow not found"
	case errors.Is(err, services.ErrFlowExists):
		return http.StatusConflict, ErrCodeFlowExists, "a flow with this name already exists"
	case errors.Is(err, services.ErrRoleInUse):
		return http.StatusConflict, ErrCodeRoleInUse, "role is already gated by another flow"
	case errors.Is(err, services.ErrFlowNameTooLong):
		return http.StatusBadRequest, ErrCodeInvalidFlow, "flow name too long"
	case errors.Is(err, services.ErrInvalidFlow):
		return http.StatusBadRequest, ErrCodeInvalidFlow, err.Error()
	case errors.Is(err, services.ErrMemberNotOnboarding):
		return http.StatusNotFound, ErrCodeNotOnboarding, "member is not onboarding"
	case errors.Is(err, services.ErrRoleRestore):
		return http.StatusBadGateway, ErrCodeRoleRestoreFailed, "member released but the role could not be restored"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "internal error"
	}
}
