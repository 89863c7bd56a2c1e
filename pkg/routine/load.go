package routine

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseTable decodes and validates a YAML routine table
func ParseTable(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Table
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode routine table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routine table: %w", err)
	}
	return &t, nil
}

// LoadTable reads a YAML routine table from path
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routine table: %w", err)
	}
	return ParseTable(data)
}

// Resolve returns the table at path when set, otherwise the built-in table of instrument
func Resolve(path, instrument string) (*Table, error) {
	if path != "" {
		return LoadTable(path)
	}
	return Builtin(instrument)
}

// Marshal encodes the table as YAML
func (t *Table) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
