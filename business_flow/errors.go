// Package businessflow contains the core business logic and use cases for the mail engine
package businessflow

import (
	"errors"
	"fmt"

	"github.com/clubroster/mailengine/repository"
)

// Business flow error constants
var (
	// Delivery-related errors
	ErrDeliveryNotFound       = errors.New("delivery not found")
	ErrDeliveryNotCancellable = errors.New("delivery is already terminal")
	ErrRecipientRequired      = errors.New("recipient email is required")
	ErrRecipientInvalid       = errors.New("recipient email is invalid")
	ErrSubjectRequired        = errors.New("subject is required")
	ErrBodyRequired           = errors.New("email body is required")
	ErrScheduleInPast         = errors.New("scheduled time is in the past")

	// Campaign-related errors
	ErrCampaignNotFound           = errors.New("campaign not found")
	ErrCampaignNameRequired       = errors.New("campaign name is required")
	ErrCampaignTypeRequired       = errors.New("campaign type is required")
	ErrCampaignRecipientsRequired = errors.New("campaign needs at least one recipient")
	ErrCampaignRecipientRepeated  = errors.New("campaign recipient list contains duplicates")

	// Job-related errors
	ErrJobNotFound          = errors.New("scheduled job not found")
	ErrJobTypeRequired      = errors.New("job type is required")
	ErrJobEntityRequired    = errors.New("job target entity is required")
	ErrJobScheduleRequired  = errors.New("job scheduled time is required")
	ErrJobRecurrenceInvalid = errors.New("job recurrence rule is invalid")

	// Filter errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 200")
	ErrInvalidStatus   = errors.New("unknown status value")
)

// ErrDuplicateRecipient is the repository's uniqueness violation, re-exported
// so handlers only depend on this package for error classification.
var ErrDuplicateRecipient = repository.ErrDuplicateRecipient

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

func IsDeliveryNotFound(err error) bool {
	return errors.Is(err, ErrDeliveryNotFound)
}

func IsDeliveryNotCancellable(err error) bool {
	return errors.Is(err, ErrDeliveryNotCancellable)
}

func IsDuplicateRecipient(err error) bool {
	return errors.Is(err, ErrDuplicateRecipient)
}

func IsCampaignNotFound(err error) bool {
	return errors.Is(err, ErrCampaignNotFound)
}

func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsValidationError reports whether the error is a caller mistake that
// should map to a 400 rather than a 500.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrRecipientRequired, ErrRecipientInvalid, ErrSubjectRequired,
		ErrBodyRequired, ErrScheduleInPast,
		ErrCampaignNameRequired, ErrCampaignTypeRequired,
		ErrCampaignRecipientsRequired, ErrCampaignRecipientRepeated,
		ErrJobTypeRequired, ErrJobEntityRequired, ErrJobScheduleRequired,
		ErrJobRecurrenceInvalid,
		ErrInvalidPage, ErrInvalidPageSize, ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
