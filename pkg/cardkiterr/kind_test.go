package cardkiterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"with message", New(Timeout, "wait exceeded 5s"), "TIMEOUT: wait exceeded 5s"},
		{"no message", New(NotConnected, ""), "NOT_CONNECTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("pcsc: SCardConnect failed")
	err := Wrap(ReaderError, "failed to open reader", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through to the wrapped cause")
	}
	if got := errors.Unwrap(err); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestError_Debug(t *testing.T) {
	plain := New(InvalidParameter, "timeout must be >= 0")
	if got := plain.Debug(); got != plain.Error() {
		t.Errorf("Debug() without cause should equal Error(): got %q", got)
	}

	cause := errors.New("underlying")
	wrapped := Wrap(PlatformError, "init failed", cause)
	want := fmt.Sprintf("%s (cause: %v)", wrapped.Error(), cause)
	if got := wrapped.Debug(); got != want {
		t.Errorf("Debug() = %q, want %q", got, want)
	}
}

func TestError_Is_MatchesOnKindAlone(t *testing.T) {
	err := Wrap(CardNotPresent, "no card on reader 0", errors.New("boom"))

	if !errors.Is(err, New(CardNotPresent, "")) {
		t.Error("errors.Is should match solely on Kind, ignoring message/cause")
	}
	if errors.Is(err, New(NotConnected, "")) {
		t.Error("errors.Is should not match a different Kind")
	}
}

func TestOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil error", nil, ""},
		{"tagged error", New(ResourceLimit, "too many sessions"), ResourceLimit},
		{"wrapped tagged error", fmt.Errorf("acquire: %w", New(AlreadyAcquired, "")), AlreadyAcquired},
		{"unrecognized error", errors.New("some raw stdlib error"), PlatformError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Of(tt.err); got != tt.want {
				t.Errorf("Of(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
