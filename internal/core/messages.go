package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"crmcore/pkg/domain"
)

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func successMessage(entity domain.EntityType, verb string) string {
	return fmt.Sprintf("%s %s", capitalize(string(entity)), verb)
}

func bulkSuccessMessage(entity domain.EntityType, verb string, n int) string {
	return fmt.Sprintf("%s %s %s", humanize.Comma(int64(n)), entity.Label(n), verb)
}

// failureMessage renders a user-facing message for err. action is the
// infinitive of the attempted operation ("update", "close as won").
func failureMessage(entity domain.EntityType, action string, err error) string {
	var transition *domain.TransitionError
	if errors.As(err, &transition) {
		return fmt.Sprintf("Could not %s %s: %s", action, entity, transition.Reason)
	}
	if errors.Is(err, ErrBusy) {
		return fmt.Sprintf("Could not %s %s: another change is still being saved", action, entity)
	}
	if errors.Is(err, ErrClosed) {
		return fmt.Sprintf("Could not %s %s: the %s store is shut down", action, entity, entity)
	}
	detail := err.Error()
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		detail = apiErr.Message
	}
	switch domain.KindOf(err) {
	case domain.ErrConflict:
		return fmt.Sprintf("Could not %s %s: it was modified by someone else. Reload it and try again", action, entity)
	case domain.ErrNotFound:
		return fmt.Sprintf("Could not %s %s: it no longer exists", action, entity)
	case domain.ErrPermission:
		return fmt.Sprintf("You do not have permission to %s this %s", action, entity)
	case domain.ErrValidation:
		return fmt.Sprintf("Could not %s %s: %s", action, entity, detail)
	}
	return fmt.Sprintf("Could not %s %s: %s", action, entity, detail)
}

func bulkFailureMessage(entity domain.EntityType, action string, n int, err error) string {
	return fmt.Sprintf("Could not %s %s %s: %s", action, humanize.Comma(int64(n)), entity.Label(n), describeError(err))
}

func describeError(err error) string {
	if errors.Is(err, ErrBusy) {
		return "another change is still being saved"
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
