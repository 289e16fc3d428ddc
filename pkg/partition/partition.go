// Package partition loads the occupation codes that split a fetch run into
// independent sub-searches.
package partition

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var codePattern = regexp.MustCompile(`^[A-Z][0-9]{4}$`)

// Key is one partition: an occupation code and an optional label.
type Key struct {
	Code  string `yaml:"code"`
	Label string `yaml:"label,omitempty"`
}

// UnmarshalYAML accepts either a bare code or a {code, label} mapping.
func (k *Key) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		k.Code = value.Value
		return nil
	}
	type plain Key
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*k = Key(p)
	return nil
}

// Set is an ordered, duplicate-free list of partition keys.
type Set struct {
	keys []Key
}

// Codes returns the codes in load order.
func (s *Set) Codes() []string {
	out := make([]string, len(s.keys))
	for i, k := range s.keys {
		out[i] = k.Code
	}
	return out
}

// Keys returns a copy of the keys.
func (s *Set) Keys() []Key {
	return append([]Key(nil), s.keys...)
}

// Len returns the number of keys.
func (s *Set) Len() int {
	return len(s.keys)
}

// Load reads a partition file. Files ending in .yaml or .yml hold
// `codes: [...]`; any other file is plain text with one code per line,
// where '#' starts a comment and text after the code is ignored.
func Load(path string) (*Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read partitions: %w", err)
	}

	var keys []Key
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		keys, err = parseYAML(b)
	default:
		keys, err = parseText(b)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return newSet(keys)
}

// FromCodes builds a set from codes, e.g. given on the command line.
func FromCodes(codes []string) (*Set, error) {
	keys := make([]Key, len(codes))
	for i, c := range codes {
		keys[i] = Key{Code: c}
	}
	return newSet(keys)
}

func parseYAML(b []byte) ([]Key, error) {
	var doc struct {
		Codes []Key `yaml:"codes"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc.Codes, nil
}

func parseText(b []byte) ([]Key, error) {
	var keys []Key
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		keys = append(keys, Key{Code: fields[0], Label: strings.Join(fields[1:], " ")})
	}
	return keys, sc.Err()
}

func newSet(keys []Key) (*Set, error) {
	seen := make(map[string]struct{}, len(keys))
	s := &Set{}
	for _, k := range keys {
		k.Code = strings.ToUpper(strings.TrimSpace(k.Code))
		k.Label = strings.TrimSpace(k.Label)
		if k.Code == "" {
			continue
		}
		if !codePattern.MatchString(k.Code) {
			return nil, fmt.Errorf("invalid occupation code %q", k.Code)
		}
		if _, dup := seen[k.Code]; dup {
			continue
		}
		seen[k.Code] = struct{}{}
		s.keys = append(s.keys, k)
	}
	if len(s.keys) == 0 {
		return nil, fmt.Errorf("no partition keys")
	}
	return s, nil
}
