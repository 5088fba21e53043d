package inventory

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("inventory: validation failed")
	// ErrInsufficientQuantity is raised when a batch cannot cover a reduction.
	ErrInsufficientQuantity = errors.New("inventory: insufficient batch quantity")
	// ErrInsufficientStock is raised when active batches cannot cover a consumption.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvariantViolation signals inconsistent ledger arithmetic or orphaned references.
	ErrInvariantViolation = errors.New("inventory: invariant violation")
	// ErrStorage wraps persistence failures.
	ErrStorage = errors.New("inventory: storage failure")
	// ErrNotFound indicates a missing product record or batch.
	ErrNotFound = errors.New("inventory: not found")
	// ErrDuplicateRequest indicates the request id was already processed.
	ErrDuplicateRequest = errors.New("inventory: request already processed")
)

// ValidationError reports one or more invalid input fields.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

func (e *ValidationError) empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	if e.empty() {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, field+": "+e.Fields[field])
	}
	return "inventory: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientQuantityError is returned by batch reductions below zero.
type InsufficientQuantityError struct {
	BatchID   int64
	Requested int64
	Available int64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("inventory: cannot reduce batch %d below zero (requested %d, available %d)", e.BatchID, e.Requested, e.Available)
}

func (e *InsufficientQuantityError) Is(target error) bool { return target == ErrInsufficientQuantity }

// InsufficientStockError is returned when consumption exceeds active stock.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d (requested %d, available %d)", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvariantViolationError indicates a bug upstream of the ledger.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return "inventory: invariant violation: " + e.Reason
}

func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }

func invariantf(format string, args ...any) error {
	return &InvariantViolationError{Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps an error returned by the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("inventory: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// wrapStorage leaves domain errors untouched and wraps everything else.
func wrapStorage(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrInsufficientQuantity,
		ErrInsufficientStock,
		ErrInvariantViolation,
		ErrStorage,
		ErrNotFound,
		ErrDuplicateRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
