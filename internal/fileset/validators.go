package fileset

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Validator checks the content of one path of a FileSet. Validators of
// absent optional paths and of deleted not-retained paths are skipped.
type Validator struct {
	Path  string
	Check func(path string) error
}

// StderrBenign requires the file to be empty apart from lines matching one
// of the benign patterns.
func StderrBenign(path string, benign ...*regexp.Regexp) Validator {
	return Validator{Path: path, Check: func(p string) error {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		s := bufio.NewScanner(f)
		s.Buffer(make([]byte, 64<<10), 1<<20)
	lines:
		for s.Scan() {
			line := strings.TrimSpace(s.Text())
			if line == "" {
				continue
			}
			for _, re := range benign {
				if re.MatchString(line) {
					continue lines
				}
			}
			return fmt.Errorf("%s: unexpected stderr output: %q", p, line)
		}
		return s.Err()
	}}
}

// LastLineContains requires the last non-blank line to contain marker.
func LastLineContains(path, marker string) Validator {
	return Validator{Path: path, Check: func(p string) error {
		last, err := lastLine(p)
		if err != nil {
			return err
		}
		if !strings.Contains(last, marker) {
			return fmt.Errorf("%s: last line %q does not contain %q", p, last, marker)
		}
		return nil
	}}
}

// EndsWith requires the file to end with the given sentinel bytes.
func EndsWith(path string, sentinel []byte) Validator {
	return Validator{Path: path, Check: func(p string) error {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		n := int64(len(sentinel))
		if fi.Size() < n {
			return fmt.Errorf("%s: too short for end sentinel", p)
		}
		tail := make([]byte, n)
		if _, err := f.ReadAt(tail, fi.Size()-n); err != nil {
			return err
		}
		if !bytes.Equal(tail, sentinel) {
			return fmt.Errorf("%s: does not end with %q", p, sentinel)
		}
		return nil
	}}
}

// NonEmpty requires the file to hold at least one byte.
func NonEmpty(path string) Validator {
	return Validator{Path: path, Check: func(p string) error {
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		if fi.Size() == 0 {
			return fmt.Errorf("%s: empty", p)
		}
		return nil
	}}
}

// HasRecords requires at least one record: a non-blank line not starting
// with '#'.
func HasRecords(path string) Validator {
	return Validator{Path: path, Check: func(p string) error {
		n, err := CountRecords(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s: no records", p)
		}
		return nil
	}}
}

// CountRecords counts the records of a line-oriented output file.
func CountRecords(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64<<10), 1<<20)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n, s.Err()
}

func lastLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	// Only the tail matters; logs can be large.
	const tailSize = 8 << 10
	off := fi.Size() - tailSize
	if off < 0 {
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\r\n\t "), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[len(lines)-1]) == "" {
		return "", errors.New(path + ": empty")
	}
	return strings.TrimSpace(lines[len(lines)-1]), nil
}
