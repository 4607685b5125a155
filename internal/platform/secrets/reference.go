package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// reference is a parsed secret://name?version=N&project=P URI.
type reference struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseReference(raw string) (reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	return reference{
		canonical: "secret://" + name,
		name:      strings.ReplaceAll(name, "/", "_"),
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// fallbackFile holds "secret://name[?version=N]=value" lines, loaded once on first use.
type fallbackFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(canonical, version string) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if value, ok := f.values[canonical+"#"+version]; ok {
		return value, true, nil
	}
	value, ok := f.values[canonical]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback file: %w", err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := splitIndex(line)
		if idx <= 0 {
			continue
		}
		ref, err := parseReference(line[:idx])
		if err != nil {
			continue
		}
		value := strings.TrimSpace(line[idx+1:])
		if ref.version != "" {
			f.values[ref.canonical+"#"+ref.version] = value
			continue
		}
		f.values[ref.canonical] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file: %w", err)
	}
}

// splitIndex finds the "=" separating the reference from its value. Query parameters in the
// reference contain "=" themselves, and values may too.
func splitIndex(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != '=' {
			continue
		}
		ref := line[:i]
		q := strings.Index(ref, "?")
		if q < 0 {
			return i
		}
		complete := true
		for _, pair := range strings.Split(ref[q+1:], "&") {
			if !strings.Contains(pair, "=") {
				complete = false
				break
			}
		}
		if complete {
			return i
		}
	}
	return -1
}
