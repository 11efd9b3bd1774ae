package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// decode parses a config file. YAML is re-encoded as JSON first so both
// formats go through the same strict decoder and the same json tags.
func decode(path string, data []byte) (*Config, error) {
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
		j, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = j
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("trailing data")
		}
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	return &cfg, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("yaml: config must be a single document")
	}
	return json.Marshal(stringKeys(doc))
}

// stringKeys rewrites map[any]any nodes (non-string YAML keys) into
// map[string]any so encoding/json accepts them.
func stringKeys(v any) any {
	switch n := v.(type) {
	case map[string]any:
		for k, e := range n {
			n[k] = stringKeys(e)
		}
		return n
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, e := range n {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i, e := range n {
			n[i] = stringKeys(e)
		}
		return n
	}
	return v
}

// Duration parses a duration field. Blank or zero yields def; negative values
// are rejected. field names the key in error messages.
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return def, fmt.Errorf("%s: %q is not a duration", field, raw)
	case d < 0:
		return def, fmt.Errorf("%s: must not be negative", field)
	case d == 0:
		return def, nil
	}
	return d, nil
}
