// Package templates persists the message template corpus as a flat text file,
// one template per line.
package templates

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrIndexOutOfRange = errors.New("template index out of range")
	ErrEmptyTemplate   = errors.New("template is empty")
)

// FileStore keeps the corpus in memory and mirrors every change to disk.
// Add appends one line; Delete rewrites the whole file.
type FileStore struct {
	mu        sync.RWMutex
	path      string
	templates []string
	logger    *zap.Logger
}

// Open loads the corpus at path. A missing file yields an empty corpus.
func Open(path string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{path: path, logger: logger.Named("templates")}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Warn("template file not found, starting with an empty corpus", zap.String("path", path))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read templates: %w", err)
	}

	s.templates = parse(string(data))
	s.logger.Info("loaded message templates", zap.Int("count", len(s.templates)), zap.String("path", path))
	return s, nil
}

func parse(data string) []string {
	lines := strings.Split(data, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (s *FileStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.templates...)
}

func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

// Add appends a newline and the template to the file
func (s *FileStore) Add(template string) error {
	if strings.TrimSpace(template) == "" {
		return ErrEmptyTemplate
	}
	// One template per line
	template = strings.ReplaceAll(template, "\n", " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open templates: %w", err)
	}
	if _, err := f.WriteString("\n" + template); err != nil {
		f.Close()
		return fmt.Errorf("failed to append template: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close templates: %w", err)
	}

	s.templates = append(s.templates, template)
	return nil
}

// Delete removes the template at index and rewrites the file joined by newlines
func (s *FileStore) Delete(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.templates) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.templates))
	}

	next := make([]string, 0, len(s.templates)-1)
	next = append(next, s.templates[:index]...)
	next = append(next, s.templates[index+1:]...)

	if err := os.WriteFile(s.path, []byte(strings.Join(next, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to rewrite templates: %w", err)
	}
	s.templates = next
	return nil
}
