package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrInstanceAlreadyRunning indicates another process already owns the app instance lock.
var ErrInstanceAlreadyRunning = errors.New("instance already running")

const instanceLockFilename = "instance.lock"

// InstanceLock represents an acquired single-instance lock.
type InstanceLock interface {
	Release() error
	Path() string
}

type fileInstanceLock struct {
	lock *flock.Flock
}

// AcquireInstanceLock takes a non-blocking exclusive lock in the user runtime
// directory so only one process per user runs the listener.
func AcquireInstanceLock(appID string) (InstanceLock, error) {
	dir, err := instanceLockDir(normalizeInstanceLockComponent(appID, "app"))
	if err != nil {
		return nil, err
	}

	return AcquireInstanceLockAt(filepath.Join(dir, instanceLockFilename))
}

// AcquireInstanceLockAt is AcquireInstanceLock with an explicit lock file path.
func AcquireInstanceLockAt(path string) (InstanceLock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance file lock: %w", err)
	}
	if !ok {
		return nil, ErrInstanceAlreadyRunning
	}

	return &fileInstanceLock{lock: lock}, nil
}

func (l *fileInstanceLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock instance file lock: %w", err)
	}
	l.lock = nil

	return nil
}

func (l *fileInstanceLock) Path() string {
	if l == nil || l.lock == nil {
		return ""
	}

	return l.lock.Path()
}

func instanceLockDir(appID string) (string, error) {
	lockDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if lockDir != "" {
		lockDir = filepath.Join(lockDir, appID)
	} else {
		lockDir = filepath.Join(os.TempDir(), appID+"-"+strconv.Itoa(os.Getuid()))
	}

	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return "", fmt.Errorf("create instance lock dir: %w", err)
	}

	return lockDir, nil
}

func normalizeInstanceLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
