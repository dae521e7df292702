package logger

import (
	"io"
	"regexp"
)

// Redactor masks secrets in log output
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor for model provider keys and bearer tokens
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`(?i)api[_-]?key["\s:=]+[^\s",}]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every match with [REDACTED]
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap wraps w so that everything written through it is redacted
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
