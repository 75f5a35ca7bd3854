package userstore

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/doodlelabs/doodlechat/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func TestRegisterThenAuthenticate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Register("alice", "password1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, err := s.Authenticate("alice", "password1")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want alice", user.Username)
	}

	if _, err := s.Authenticate("alice", "wrong"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong password: err = %v, want ErrAuthFailed", err)
	}
	if _, err := s.Authenticate("nobody", "password1"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("unknown user: err = %v, want ErrAuthFailed", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Register("bob", "pw"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := s.Register("bob", "other"); !errors.Is(err, ErrUserExists) {
		t.Errorf("second Register: err = %v, want ErrUserExists", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Register("carol", "s3cret"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reopened, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 1 {
		t.Fatalf("Count = %d, want 1", reopened.Count())
	}
	if _, err := reopened.Authenticate("carol", "s3cret"); err != nil {
		t.Errorf("Authenticate after reopen: %v", err)
	}
}

func TestOpenSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	content := strings.Join([]string{
		"not a record",
		"dave:!!!:???",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := Open(path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d, want 0", s.Count())
	}
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "missing.txt"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d, want 0", s.Count())
	}
}

func TestRejectsUsernameWithColon(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "users.txt"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Register("a:b", "pw"); err == nil {
		t.Error("Register accepted a username containing a colon")
	}
}
