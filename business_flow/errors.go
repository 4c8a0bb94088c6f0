// Package businessflow contains the core business logic of the dashboard
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Authentication and authorization
	ErrUnauthenticated     = errors.New("authentication required")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrCaptchaInvalid      = errors.New("captcha verification failed")
	ErrForbidden           = errors.New("operation not permitted for this role")
	ErrNotOwnEntity        = errors.New("leads can only act on their own entity")
	ErrNotRequestOwner     = errors.New("only the requester can cancel an allocation request")
	ErrLeadRequiresEntity  = errors.New("lead users must belong to an entity")
	ErrEmailAlreadyExists  = errors.New("email already exists")
	ErrEntityNameExists    = errors.New("entity name already exists")
	ErrUniIDAlreadyMapped  = errors.New("university is already mapped")
	ErrCampaignCodeExists  = errors.New("campaign code already exists for this form")
	ErrVocabCodeExists     = errors.New("code already exists")
	ErrFieldNameExists     = errors.New("field name already exists on this form")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInvalidEntityType   = errors.New("invalid entity type")
	ErrInvalidFormType     = errors.New("invalid form type")
	ErrInvalidFieldType    = errors.New("invalid field type")
	ErrInvalidFieldOptions = errors.New("invalid field options")
	ErrInvalidReorder      = errors.New("reorder must list every field of the form exactly once")

	// Not found
	ErrFormNotFound              = errors.New("form not found")
	ErrFieldNotFound             = errors.New("form field not found")
	ErrSubmissionNotFound        = errors.New("submission not found")
	ErrEntityNotFound            = errors.New("entity not found")
	ErrUserNotFound              = errors.New("user not found")
	ErrAllocationRequestNotFound = errors.New("allocation request not found")
	ErrCampaignNotFound          = errors.New("campaign not found")
	ErrSourceNotFound            = errors.New("utm source not found")
	ErrMediumNotFound            = errors.New("utm medium not found")
	ErrLinkNotFound              = errors.New("utm link not found")
	ErrNotificationNotFound      = errors.New("notification not found")

	// Submission validation
	ErrEmptyPayload         = errors.New("submission payload is empty")
	ErrRequiredFieldMissing = errors.New("required field is missing")
	ErrInvalidDateRange     = errors.New("from must be before to")
	ErrFormRequired         = errors.New("form_id is required")

	// Allocation state
	ErrSubmissionAlreadyAllocated  = errors.New("submission is already allocated to a local entity")
	ErrEntityNotLocal              = errors.New("target entity is not a local entity")
	ErrAllocationRequestNotPending = errors.New("allocation request is not pending")
	ErrInvalidAllocationAction     = errors.New("action must be approve or reject")

	// UTM
	ErrCampaignInactive = errors.New("campaign is inactive")
	ErrInvalidHubType   = errors.New("invalid hub type")
	ErrInvalidBaseURL   = errors.New("base url must be an absolute http(s) url")
	ErrInvalidClickType = errors.New("click type must be click or view")

	ErrFeatureDisabled = errors.New("feature is disabled")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// Error categories used by handlers to pick a status code
var (
	unauthenticatedErrors = []error{ErrUnauthenticated, ErrInvalidCredentials, ErrAccountInactive, ErrCaptchaInvalid}
	forbiddenErrors       = []error{ErrForbidden, ErrNotOwnEntity, ErrNotRequestOwner}
	notFoundErrors        = []error{
		ErrFormNotFound, ErrFieldNotFound, ErrSubmissionNotFound, ErrEntityNotFound, ErrUserNotFound,
		ErrAllocationRequestNotFound, ErrCampaignNotFound, ErrSourceNotFound, ErrMediumNotFound,
		ErrLinkNotFound, ErrNotificationNotFound,
	}
	invalidErrors = []error{
		ErrLeadRequiresEntity, ErrEmailAlreadyExists, ErrEntityNameExists, ErrUniIDAlreadyMapped,
		ErrCampaignCodeExists, ErrVocabCodeExists, ErrFieldNameExists, ErrInvalidRole, ErrInvalidEntityType,
		ErrInvalidFormType, ErrInvalidFieldType, ErrInvalidFieldOptions, ErrInvalidReorder,
		ErrEmptyPayload, ErrRequiredFieldMissing, ErrInvalidDateRange, ErrFormRequired,
		ErrSubmissionAlreadyAllocated, ErrEntityNotLocal, ErrAllocationRequestNotPending,
		ErrInvalidAllocationAction, ErrCampaignInactive, ErrInvalidHubType, ErrInvalidBaseURL, ErrInvalidClickType,
		ErrFeatureDisabled,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// IsUnauthenticated reports errors that map to 401
func IsUnauthenticated(err error) bool { return isAny(err, unauthenticatedErrors) }

// IsForbidden reports errors that map to 403
func IsForbidden(err error) bool { return isAny(err, forbiddenErrors) }

// IsNotFound reports errors that map to 404
func IsNotFound(err error) bool { return isAny(err, notFoundErrors) }

// IsInvalid reports validation and state errors that map to 400
func IsInvalid(err error) bool { return isAny(err, invalidErrors) }

func IsAllocationRequestNotPending(err error) bool {
	return errors.Is(err, ErrAllocationRequestNotPending)
}

func IsSubmissionAlreadyAllocated(err error) bool {
	return errors.Is(err, ErrSubmissionAlreadyAllocated)
}

func IsEntityNotLocal(err error) bool {
	return errors.Is(err, ErrEntityNotLocal)
}

func IsRequiredFieldMissing(err error) bool {
	return errors.Is(err, ErrRequiredFieldMissing)
}

func IsCaptchaInvalid(err error) bool {
	return errors.Is(err, ErrCaptchaInvalid)
}

func IsLinkNotFound(err error) bool {
	return errors.Is(err, ErrLinkNotFound)
}

// ErrorCode returns the most specific code carried by err
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) && be.Code != "" {
		return be.Code
	}
	return "INTERNAL_ERROR"
}
