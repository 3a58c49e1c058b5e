package miio

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error types for device communication

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error (unreachable host etc.)
	ErrTypeNetwork ErrorType = iota
	// ErrTypeTimeout indicates the device did not answer in time
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates the device refused the connection
	ErrTypeConnectionRefused
	// ErrTypeChecksum indicates packet verification or decryption failed,
	// which almost always means the configured token is wrong
	ErrTypeChecksum
	// ErrTypeProtocol indicates a malformed or unexpected device response
	ErrTypeProtocol
	// ErrTypeDevice indicates the device answered with an error code
	ErrTypeDevice
	// ErrTypeUnknown indicates an unknown or unexpected error
	ErrTypeUnknown
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeChecksum:
		return "Checksum Error"
	case ErrTypeProtocol:
		return "Protocol Error"
	case ErrTypeDevice:
		return "Device Error"
	case ErrTypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Device error codes that signal a momentary hiccup rather than a real
// failure. The vendor firmware returns -9999 spuriously under load and a
// repeated call usually succeeds; -30001 means "resource busy".
const (
	deviceCodeTransient = -9999
	deviceCodeBusy      = -30001
)

// DeviceError represents an error that occurred while talking to a device
type DeviceError struct {
	Type      ErrorType // Category of error
	Message   string    // Human-readable error message
	Code      int       // Device error code (ErrTypeDevice only)
	Err       error     // Underlying error (if any)
	Host      string    // Device address (for context)
	Retryable bool      // Whether an immediate retry may succeed
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	if e.Type == ErrTypeDevice {
		return fmt.Sprintf("%s: %s (code %d)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// newDeviceCodeError builds a DeviceError from an error payload in a
// device response.
func newDeviceCodeError(host string, code int, message string) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeDevice,
		Message:   message,
		Code:      code,
		Host:      host,
		Retryable: code == deviceCodeTransient || code == deviceCodeBusy,
	}
}

// IsTransient reports whether err is a device-side error worth an
// immediate retry within the same poll cycle.
func IsTransient(err error) bool {
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		return false
	}
	return devErr.Type == ErrTypeDevice && devErr.Retryable
}

// IsChecksum reports whether err indicates a token mismatch.
func IsChecksum(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeChecksum
}

// ClassifyNetworkError analyzes an I/O error and wraps it in a DeviceError
// with the most specific category available.
func ClassifyNetworkError(err error, host string) *DeviceError {
	if err == nil {
		return nil
	}

	// Already classified
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr
	}

	// Check for timeout errors
	var netErr net.Error
	if os.IsTimeout(err) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &DeviceError{
			Type:      ErrTypeTimeout,
			Message:   "Device did not respond",
			Err:       err,
			Host:      host,
			Retryable: true,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return &DeviceError{
				Type:      ErrTypeConnectionRefused,
				Message:   "Device refused connection",
				Err:       err,
				Host:      host,
				Retryable: true,
			}
		}
		if errors.Is(opErr.Err, syscall.EHOSTUNREACH) || errors.Is(opErr.Err, syscall.ENETUNREACH) {
			return &DeviceError{
				Type:      ErrTypeNetwork,
				Message:   "Device unreachable",
				Err:       err,
				Host:      host,
				Retryable: false,
			}
		}
		return &DeviceError{
			Type:      ErrTypeNetwork,
			Message:   "Network error",
			Err:       err,
			Host:      host,
			Retryable: false,
		}
	}

	return &DeviceError{
		Type:      ErrTypeUnknown,
		Message:   "Unexpected error",
		Err:       err,
		Host:      host,
		Retryable: false,
	}
}
