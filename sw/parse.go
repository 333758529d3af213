package sw

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a definition document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension. It returns an
// empty format for unknown extensions so the content is sniffed instead.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return ""
	}
}

// Parse decodes a definition. File references inside the document are
// resolved against the working directory.
func Parse(data []byte, format Format) (*Definition, error) {
	return parse(data, format, "")
}

// Load reads and decodes a definition from r. File references inside the
// document are resolved against baseDir.
func Load(r io.Reader, format Format, baseDir string) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	return parse(data, format, baseDir)
}

// LoadFile reads a definition from a file. The format follows the file
// extension.
func LoadFile(path string) (def *Definition, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return Load(f, FormatFromPath(path), filepath.Dir(path))
}

func parse(data []byte, format Format, baseDir string) (*Definition, error) {
	jsonData, err := toJSON(data, format)
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	def.baseDir = baseDir
	if err := def.resolveRefs(); err != nil {
		return nil, err
	}
	return &def, nil
}

// toJSON converts YAML to JSON. JSON passes through unchanged.
func toJSON(data []byte, format Format) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty workflow definition")
	}
	if format == "" {
		if trimmed[0] == '{' || trimmed[0] == '[' {
			format = FormatJSON
		} else {
			format = FormatYAML
		}
	}
	switch format {
	case FormatJSON:
		if !json.Valid(trimmed) {
			var v any
			err := json.Unmarshal(trimmed, &v)
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return trimmed, nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func (d *Definition) resolvePath(location string) string {
	location = strings.TrimPrefix(location, "file://")
	if filepath.IsAbs(location) || d.baseDir == "" {
		return location
	}
	return filepath.Join(d.baseDir, location)
}

// readRef loads a referenced file as JSON. When the document is an object
// holding key, the value under key is returned. An empty key returns the
// whole document.
func (d *Definition) readRef(location, label, key string) ([]byte, error) {
	path := d.resolvePath(location)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s file: %w", label, err)
	}
	jsonData, err := toJSON(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s file %s: %w", label, location, err)
	}
	if key == "" {
		return jsonData, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(jsonData, &wrapper); err == nil {
		if inner, ok := wrapper[key]; ok {
			return inner, nil
		}
	}
	return jsonData, nil
}

func (d *Definition) resolveRefs() error {
	refs := []struct {
		key    string
		ref    string
		target any
	}{
		{"functions", d.functionsRef, &d.Functions},
		{"errors", d.errorsRef, &d.Errors},
		{"retries", d.retriesRef, &d.Retries},
		{"secrets", d.secretsRef, &d.Secrets},
		{"constants", d.constantsRef, &d.Constants},
	}
	for _, ref := range refs {
		if ref.ref == "" {
			continue
		}
		data, err := d.readRef(ref.ref, ref.key, ref.key)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, ref.target); err != nil {
			return fmt.Errorf("%s file %s: %w", ref.key, ref.ref, err)
		}
	}
	if d.DataInputSchema != nil && d.DataInputSchema.ref != "" {
		data, err := d.readRef(d.DataInputSchema.ref, "schema", "")
		if err != nil {
			return err
		}
		d.DataInputSchema.Schema = data
	}
	return nil
}
