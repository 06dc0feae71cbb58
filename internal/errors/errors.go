// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard sentinel errors
var (
	ErrDuplicateID     = errors.New("duplicate alert id")
	ErrNotFound        = errors.New("alert not found")
	ErrNotOwner        = errors.New("alert belongs to another owner")
	ErrInputValidation = errors.New("input validation failed")
	ErrStoreCorrupt    = errors.New("alert store is corrupt")
	ErrStoreIO         = errors.New("alert store i/o failed")
	ErrStoreLocked     = errors.New("alert store is locked by another process")
	ErrDelivery        = errors.New("notification delivery failed")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrTimeout         = errors.New("operation timed out")
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match any validation failure with ErrInputValidation.
func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RegistryError represents a registry-level failure for a specific alert.
type RegistryError struct {
	AlertID string
	Err     error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("alert %s: %v", e.AlertID, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// NewDuplicateIDError reports an id that is already registered.
func NewDuplicateIDError(id string) *RegistryError {
	return &RegistryError{AlertID: id, Err: ErrDuplicateID}
}

// NewNotFoundError reports an unknown alert id.
func NewNotFoundError(id string) *RegistryError {
	return &RegistryError{AlertID: id, Err: ErrNotFound}
}

// NewNotOwnerError reports an alert touched by someone other than its owner.
func NewNotOwnerError(id string) *RegistryError {
	return &RegistryError{AlertID: id, Err: ErrNotOwner}
}

// FetchKind classifies a price fetch failure.
type FetchKind string

const (
	FetchNotFound    FetchKind = "not_found"
	FetchRateLimited FetchKind = "rate_limited"
	FetchNetwork     FetchKind = "network_error"
	FetchUpstream    FetchKind = "upstream_error"
)

// Transient reports whether the pair should be retried on the next tick.
func (k FetchKind) Transient() bool {
	return k != FetchNotFound
}

// PriceFetchError represents a failed price lookup for one pair.
type PriceFetchError struct {
	Kind       FetchKind
	Asset      string
	Quote      string
	RetryAfter time.Duration
	Err        error
}

func (e *PriceFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("price fetch [%s] %s/%s: %v", e.Kind, e.Asset, e.Quote, e.Err)
	}
	return fmt.Sprintf("price fetch [%s] %s/%s", e.Kind, e.Asset, e.Quote)
}

func (e *PriceFetchError) Unwrap() error {
	return e.Err
}

// NewPriceFetchError creates a new PriceFetchError.
func NewPriceFetchError(kind FetchKind, asset, quote string, err error) *PriceFetchError {
	return &PriceFetchError{
		Kind:  kind,
		Asset: asset,
		Quote: quote,
		Err:   err,
	}
}

// FetchKindOf extracts the fetch kind from err. Unclassified errors count as network errors.
func FetchKindOf(err error) FetchKind {
	var pfe *PriceFetchError
	if errors.As(err, &pfe) {
		return pfe.Kind
	}
	return FetchNetwork
}

// StoreError represents a persistence failure.
type StoreError struct {
	Op   string
	Path string
	Kind error // ErrStoreCorrupt or ErrStoreIO
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Kind)
}

// Is matches the sentinel kind as well as the wrapped cause.
func (e *StoreError) Is(target error) bool {
	return target == e.Kind
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreIOError creates a StoreError of kind ErrStoreIO.
func NewStoreIOError(op, path string, err error) *StoreError {
	return &StoreError{Op: op, Path: path, Kind: ErrStoreIO, Err: err}
}

// NewStoreCorruptError creates a StoreError of kind ErrStoreCorrupt.
func NewStoreCorruptError(op, path string, err error) *StoreError {
	return &StoreError{Op: op, Path: path, Kind: ErrStoreCorrupt, Err: err}
}

// DeliveryError represents a failed notification.
type DeliveryError struct {
	AlertID string
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery error [%s] alert %s: %v", e.Channel, e.AlertID, e.Err)
}

// Is lets callers match any delivery failure with ErrDelivery.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new DeliveryError.
func NewDeliveryError(alertID, channel string, err error) *DeliveryError {
	return &DeliveryError{
		AlertID: alertID,
		Channel: channel,
		Err:     err,
	}
}
