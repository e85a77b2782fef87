package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestDispatcher(command string, args []string, timeout time.Duration) *Dispatcher {
	return NewDispatcher(Config{
		Command: command,
		Args:    args,
		Channel: "whatsapp",
		Timeout: timeout,
	}, zerolog.Nop())
}

func TestNotifySuccess(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	d := newTestDispatcher("sh", []string{
		"-c", `printf '%s|%s|%s' "$1" "$2" "$3" > "$4"`, "sh",
		"{channel}", "{target}", "{message}", out,
	}, 0)

	if err := d.Notify(context.Background(), "tokens are back", "+15550001111"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if got, want := string(data), "whatsapp|+15550001111|tokens are back"; got != want {
		t.Fatalf("expected arguments %q, got %q", want, got)
	}
}

func TestNotifyPlaceholdersAreNotExpandedTwice(t *testing.T) {
	args := expandArgs([]string{"--message", "{message}"}, strings.NewReplacer(
		"{channel}", "c",
		"{target}", "t",
		"{message}", "literal {target}",
	))
	if args[1] != "literal {target}" {
		t.Fatalf("expected message untouched, got %q", args[1])
	}
}

func TestNotifyErrors(t *testing.T) {
	tests := []struct {
		name    string
		command string
		args    []string
		timeout time.Duration
		target  string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "missing tool",
			command: "quotawatch-definitely-not-installed",
			target:  "me",
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrToolNotFound) {
					t.Fatalf("expected ErrToolNotFound, got %v", err)
				}
			},
		},
		{
			name:    "non-zero exit",
			command: "sh",
			args:    []string{"-c", "echo 'bad target' >&2; exit 3"},
			target:  "me",
			check: func(t *testing.T, err error) {
				var exitErr *ExitError
				if !errors.As(err, &exitErr) {
					t.Fatalf("expected ExitError, got %v", err)
				}
				if exitErr.Code != 3 {
					t.Fatalf("expected exit code 3, got %d", exitErr.Code)
				}
				if exitErr.Stderr != "bad target" {
					t.Fatalf("expected trimmed stderr, got %q", exitErr.Stderr)
				}
			},
		},
		{
			name:    "timeout",
			command: "sleep",
			args:    []string{"5"},
			timeout: 100 * time.Millisecond,
			target:  "me",
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrTimeout) {
					t.Fatalf("expected ErrTimeout, got %v", err)
				}
			},
		},
		{
			name:    "empty target",
			command: "sh",
			args:    []string{"-c", "exit 0"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoTarget) {
					t.Fatalf("expected ErrNoTarget, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(tt.command, tt.args, tt.timeout)
			err := d.Notify(context.Background(), "hello", tt.target)
			tt.check(t, err)
			if Describe(err) == "" {
				t.Fatal("expected a user-facing description")
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrToolNotFound, "Notification tool not installed"},
		{ErrTimeout, "Notification timed out"},
		{&ExitError{Code: 2}, "Notification failed (exit 2)"},
		{errors.New("boom"), "Notification failed"},
	}

	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
