package miio

import (
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
	}{
		{name: "timeout", err: timeoutErr{}, wantType: ErrTypeTimeout},
		{name: "wrapped timeout", err: fmt.Errorf("read: %w", timeoutErr{}), wantType: ErrTypeTimeout},
		{name: "generic", err: errors.New("boom"), wantType: ErrTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devErr := ClassifyNetworkError(tt.err, "192.0.2.1")
			if devErr.Type != tt.wantType {
				t.Errorf("ClassifyNetworkError() type = %v, want %v", devErr.Type, tt.wantType)
			}
			if devErr.Host != "192.0.2.1" {
				t.Errorf("Host = %v", devErr.Host)
			}
			if !errors.Is(devErr, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}

	if ClassifyNetworkError(nil, "h") != nil {
		t.Error("ClassifyNetworkError(nil) should be nil")
	}

	// Already-classified errors pass through untouched.
	orig := &DeviceError{Type: ErrTypeChecksum, Message: "bad token"}
	if got := ClassifyNetworkError(fmt.Errorf("call: %w", orig), "h"); got != orig {
		t.Errorf("ClassifyNetworkError() = %v, want original", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "code -9999", err: newDeviceCodeError("h", -9999, "user ack timeout"), want: true},
		{name: "code -30001", err: newDeviceCodeError("h", -30001, "resource busy"), want: true},
		{name: "other device code", err: newDeviceCodeError("h", -4004, "unsupported"), want: false},
		{name: "wrapped transient", err: fmt.Errorf("poll: %w", newDeviceCodeError("h", -9999, "x")), want: true},
		{name: "timeout is not transient", err: &DeviceError{Type: ErrTypeTimeout, Retryable: true}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsChecksum(t *testing.T) {
	err := &DeviceError{Type: ErrTypeChecksum, Message: "verification failed"}
	if !IsChecksum(fmt.Errorf("connect: %w", err)) {
		t.Error("IsChecksum() should see through wrapping")
	}
	if IsChecksum(&DeviceError{Type: ErrTypeTimeout}) {
		t.Error("IsChecksum() should reject other types")
	}
}

func TestDeviceErrorMessage(t *testing.T) {
	err := newDeviceCodeError("192.0.2.1", -9999, "user ack timeout")
	msg := err.Error()
	if msg != "Device Error: user ack timeout (code -9999)" {
		t.Errorf("Error() = %q", msg)
	}
}

func TestStatusAccessors(t *testing.T) {
	s := Status{
		"on":      true,
		"mode":    int64(1),
		"aqi":     12.5,
		"variant": "a1",
	}

	if v, ok := s.Bool("on"); !ok || !v {
		t.Errorf("Bool(on) = %v, %v", v, ok)
	}
	if v, ok := s.Int("mode"); !ok || v != 1 {
		t.Errorf("Int(mode) = %v, %v", v, ok)
	}
	if v, ok := s.Float("aqi"); !ok || v != 12.5 {
		t.Errorf("Float(aqi) = %v, %v", v, ok)
	}
	if v, ok := s.Float("mode"); !ok || v != 1 {
		t.Errorf("Float(mode) = %v, %v, integers should widen", v, ok)
	}
	if v, ok := s.String("variant"); !ok || v != "a1" {
		t.Errorf("String(variant) = %v, %v", v, ok)
	}
	if _, ok := s.Bool("absent"); ok {
		t.Error("Bool(absent) should not be ok")
	}

	clone := s.Clone()
	clone["on"] = false
	if v, _ := s.Bool("on"); !v {
		t.Error("Clone() must not alias the original")
	}
}
