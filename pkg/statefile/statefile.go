// Package statefile reads and writes the depmark state overlay
// format: text sections of "Key: Value" lines separated by blank
// lines, one section per package. It also provides the atomic
// replacement dance and the cooperative lock file that guard the
// overlay on disk.
package statefile

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Section is one parsed tag/value block.
type Section map[string]string

// Field returns the value for key, or "" when absent.
func (s Section) Field(key string) string {
	return s[key]
}

// Has reports whether key is present.
func (s Section) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Bool interprets a yes/no field, returning def when the field is
// absent or unintelligible.
func (s Section) Bool(key string, def bool) bool {
	switch strings.ToLower(s[key]) {
	case "yes", "true":
		return true
	case "no", "false":
		return false
	}
	return def
}

// Int interprets an integer field, returning def when the field is
// absent or unintelligible.
func (s Section) Int(key string, def int) int {
	v, ok := s[key]
	if !ok {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

// Scanner reads sections from a state overlay. Malformed lines are
// skipped and collected rather than stopping the scan, so one corrupt
// section does not take the readable remainder down with it.
type Scanner struct {
	r       *bufio.Scanner
	sec     Section
	line    int
	corrupt []error
	err     error
}

func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Scanner{r: sc}
}

// Next advances to the next non-empty section. It returns false at
// end of input or on a read error.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.sec = nil
	for s.r.Scan() {
		s.line++
		text := strings.TrimRight(s.r.Text(), " \t\r")
		if text == "" {
			if len(s.sec) > 0 {
				return true
			}
			continue
		}
		key, value, ok := strings.Cut(text, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			s.corrupt = append(s.corrupt,
				fmt.Errorf("line %d: malformed entry %q", s.line, text))
			continue
		}
		if s.sec == nil {
			s.sec = make(Section, 12)
		}
		s.sec[key] = strings.TrimSpace(value)
	}
	s.err = s.r.Err()
	return s.err == nil && len(s.sec) > 0
}

// Section returns the section the last successful Next produced.
func (s *Scanner) Section() Section {
	return s.sec
}

// Err returns the read error that stopped the scan, if any.
func (s *Scanner) Err() error {
	return s.err
}

// Corrupt returns the malformed lines encountered so far, nil when
// the input was clean.
func (s *Scanner) Corrupt() []error {
	return s.corrupt
}
