package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Domain error kinds — every operation rejects with one of these before any
// state change, and the handler boundary maps them onto HTTP statuses.
const (
	ErrKindValidation    = "validation"
	ErrKindStateConflict = "state_conflict"
	ErrKindAuthorization = "authorization"
	ErrKindNotFound      = "not_found"
	ErrKindArithmetic    = "arithmetic_invariant"
)

type DomainError struct {
	Kind   string
	Reason string
}

func (e *DomainError) Error() string {
	return e.Reason
}

func ErrValidation(format string, args ...interface{}) error {
	return &DomainError{Kind: ErrKindValidation, Reason: fmt.Sprintf(format, args...)}
}

func ErrStateConflict(format string, args ...interface{}) error {
	return &DomainError{Kind: ErrKindStateConflict, Reason: fmt.Sprintf(format, args...)}
}

func ErrAuthorization(format string, args ...interface{}) error {
	return &DomainError{Kind: ErrKindAuthorization, Reason: fmt.Sprintf(format, args...)}
}

func ErrNotFound(format string, args ...interface{}) error {
	return &DomainError{Kind: ErrKindNotFound, Reason: fmt.Sprintf(format, args...)}
}

func ErrArithmetic(format string, args ...interface{}) error {
	return &DomainError{Kind: ErrKindArithmetic, Reason: fmt.Sprintf(format, args...)}
}

// RespondError writes the standard `{ "error": ... }` envelope with the
// status implied by the error kind. Non-domain errors become plain 500s.
func RespondError(c *fiber.Ctx, err error) error {
	var de *DomainError
	if errors.As(err, &de) {
		status := fiber.StatusInternalServerError
		switch de.Kind {
		case ErrKindValidation:
			status = fiber.StatusBadRequest
		case ErrKindStateConflict:
			status = fiber.StatusConflict
		case ErrKindAuthorization:
			status = fiber.StatusForbidden
		case ErrKindNotFound:
			status = fiber.StatusNotFound
		case ErrKindArithmetic:
			status = fiber.StatusUnprocessableEntity
		}
		return c.Status(status).JSON(fiber.Map{"error": de.Reason})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

// IsKind reports whether err is a DomainError of the given kind.
func IsKind(err error, kind string) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Kind == kind
}
