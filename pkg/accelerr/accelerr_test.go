package accelerr

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIs_MatchesByCode(t *testing.T) {
	err := New(CodeNotFound, "open", "no device %s", "hisi_zip-0")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected %v to match ErrNotFound", err)
	}
	if errors.Is(err, ErrIO) {
		t.Errorf("expected %v not to match ErrIO", err)
	}
}

func TestIs_ThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("acquire: %w", Wrap(CodeIO, "open", syscall.ENOENT))
	if !errors.Is(err, ErrIO) {
		t.Error("wrapped error should match ErrIO")
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Error("wrapped error should unwrap to the errno")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(CodeIO, "x", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(CodeIO, "mmap", syscall.EINVAL)
	want := "mmap: IO_ERROR: " + syscall.EINVAL.Error()
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"errno", Wrap(CodeIO, "ioctl", syscall.ENOTTY), -int(syscall.ENOTTY)},
		{"invalid", New(CodeInvalidArgument, "wait", "nil context"), -int(syscall.EINVAL)},
		{"not_found", New(CodeNotFound, "open", "x"), -int(syscall.ENODEV)},
		{"plain", errors.New("boom"), -int(syscall.EIO)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Errno(tc.err); got != tc.want {
				t.Errorf("Errno() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(errors.New("plain")) != "" {
		t.Error("plain error should have no code")
	}
	if CodeOf(fmt.Errorf("x: %w", ErrUnavailable)) != CodeUnavailable {
		t.Error("expected CodeUnavailable")
	}
}
