package push

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/term"
)

// PromptFunc asks the user whether to allow notifications.
type PromptFunc func(ctx context.Context) (bool, error)

// fileState is the on-disk permission record.
type fileState struct {
	Granted bool   `json:"granted"`
	Token   string `json:"token,omitempty"`
}

// FileRegistrar stands in for the OS permission service on hosts without one.
// The permission and token are kept in a JSON file so that grant and revoke
// can happen from another process, like a user flipping the OS setting.
type FileRegistrar struct {
	path   string
	prompt PromptFunc
	mu     sync.Mutex
}

// NewFileRegistrar creates a registrar backed by path. prompt may be nil, in
// which case RequestPermission asks on the terminal.
func NewFileRegistrar(path string, prompt PromptFunc) *FileRegistrar {
	if prompt == nil {
		prompt = TerminalPrompt(os.Stdin, os.Stdout)
	}

	return &FileRegistrar{path: path, prompt: prompt}
}

func (f *FileRegistrar) read() (fileState, error) {
	var st fileState

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}

	if err != nil {
		return st, err
	}

	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to parse push state %s: %w", f.path, err)
	}

	return st, nil
}

func (f *FileRegistrar) write(st fileState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}

	return os.WriteFile(f.path, data, 0o600)
}

func (f *FileRegistrar) Permission(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.read()

	return st.Granted, err
}

func (f *FileRegistrar) RequestPermission(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.read()
	if err != nil {
		return false, err
	}

	if st.Granted {
		return true, nil
	}

	ok, err := f.prompt(ctx)
	if err != nil || !ok {
		return false, err
	}

	return true, f.grantLocked(st)
}

func (f *FileRegistrar) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.read()
	if err != nil || !st.Granted {
		return "", err
	}

	return st.Token, nil
}

// Grant records permission, minting a device token if none exists.
func (f *FileRegistrar) Grant() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, err := f.read()
	if err != nil {
		return err
	}

	return f.grantLocked(st)
}

func (f *FileRegistrar) grantLocked(st fileState) error {
	st.Granted = true
	if st.Token == "" {
		st.Token = NewDeviceToken()
	}

	return f.write(st)
}

// Revoke withdraws permission. The token is dropped with it.
func (f *FileRegistrar) Revoke() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.write(fileState{})
}

// NewDeviceToken mints a push destination address.
func NewDeviceToken() string {
	return fmt.Sprintf("DeviceToken[%s]", uuid.NewString())
}

// TerminalPrompt asks a yes/no question on out and reads the answer from in.
// When in is not a terminal the request is declined.
func TerminalPrompt(in *os.File, out io.Writer) PromptFunc {
	return func(ctx context.Context) (bool, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return false, nil
		}

		_, _ = fmt.Fprint(out, "Allow deploywatch to send push notifications? [y/N]: ")

		answer, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}

		answer = strings.ToLower(strings.TrimSpace(answer))

		return answer == "y" || answer == "yes", nil
	}
}
