// Package topology loads topology intents from files and provides the
// built-in demo intent.
package topology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/microsdn/pkg/network"
)

// Format is an intent file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the format from a file extension. Anything that is not
// .json is read as YAML, which also accepts most JSON.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads and decodes an intent file. It does not validate the intent.
func Load(path string) (*network.TopologyIntent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading intent %s: %w", path, err)
	}
	intent, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return intent, nil
}

// Parse decodes an intent. Unknown fields are rejected so typos in an
// intent file do not silently drop configuration.
func Parse(data []byte, format Format) (*network.TopologyIntent, error) {
	var intent network.TopologyIntent

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&intent); err != nil {
			return nil, fmt.Errorf("parsing JSON intent: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&intent); err != nil {
			return nil, fmt.Errorf("parsing YAML intent: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown intent format %q", format)
	}

	return &intent, nil
}
