// Package errors provides the error taxonomy shared by the tilawa packages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrOutOfRange indicates a chapter, verse, page, part or index outside its domain
	ErrOutOfRange = errors.New("out of range")
	// ErrContentFetch indicates verses could not be fetched from a content provider
	ErrContentFetch = errors.New("content fetch failed")
	// ErrAudioResolution indicates no playable location exists for a verse
	ErrAudioResolution = errors.New("audio resolution failed")
	// ErrTransport indicates the audio transport reported a playback failure
	ErrTransport = errors.New("transport failure")
	// ErrClosed indicates an operation on a closed session or sequencer
	ErrClosed = errors.New("closed")
)

// OutOfRangeError reports a numeric value outside its permitted bounds.
type OutOfRangeError struct {
	Field string // e.g. "chapter", "verse", "page", "global index"
	Value int
	Min   int
	Max   int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s %d out of range [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

func (e *OutOfRangeError) Unwrap() error {
	return ErrOutOfRange
}

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "bookmark", "collection", "session")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// Is reports ErrNotFound even when an underlying error is attached.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ContentFetchError records a failed fetch for one source (a bookmark id,
// a page, an upstream URL).
type ContentFetchError struct {
	Source string
	Err    error
}

func (e *ContentFetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %v", e.Source, ErrContentFetch)
	}
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *ContentFetchError) Unwrap() error {
	return e.Err
}

func (e *ContentFetchError) Is(target error) bool {
	return target == ErrContentFetch
}

// AudioResolutionError reports that no cached copy and no remote location
// could be produced for a verse.
type AudioResolutionError struct {
	Chapter int
	Verse   int
	Err     error
}

func (e *AudioResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve audio for %d:%d: no playable location", e.Chapter, e.Verse)
	}
	return fmt.Sprintf("resolve audio for %d:%d: %v", e.Chapter, e.Verse, e.Err)
}

func (e *AudioResolutionError) Unwrap() error {
	return e.Err
}

func (e *AudioResolutionError) Is(target error) bool {
	return target == ErrAudioResolution
}

// TransportError wraps a failure reported by, or returned from, an audio transport.
type TransportError struct {
	Op  string // "play", "pause", "stop", "speed", or "playback"
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s: %v", e.Op, ErrTransport)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ParseError represents a parsing or deserialization error
type ParseError struct {
	Format  string // Format being parsed (e.g., "reference", "XML", "JSON")
	Input   string // Offending input, if short enough to be useful
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("failed to parse %s %q: %s", e.Format, e.Input, e.Message)
	}
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Message)
}

func (e *ParseError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Helper functions for creating common errors

// NewOutOfRange creates an OutOfRangeError
func NewOutOfRange(field string, value, min, max int) *OutOfRangeError {
	return &OutOfRangeError{Field: field, Value: value, Min: min, Max: max}
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewContentFetch creates a ContentFetchError
func NewContentFetch(source string, err error) *ContentFetchError {
	return &ContentFetchError{Source: source, Err: err}
}

// NewAudioResolution creates an AudioResolutionError
func NewAudioResolution(chapter, verse int, err error) *AudioResolutionError {
	return &AudioResolutionError{Chapter: chapter, Verse: verse, Err: err}
}

// NewTransport creates a TransportError
func NewTransport(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// NewParse creates a ParseError
func NewParse(format, input, message string) *ParseError {
	return &ParseError{
		Format:  format,
		Input:   input,
		Message: message,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join wraps errors.Join for convenience
func Join(errs ...error) error {
	return errors.Join(errs...)
}
