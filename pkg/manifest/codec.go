// pkg/manifest/codec.go - YAML (canonical) and legacy XML encodings.

package manifest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies a document encoding.
type Format int

const (
	FormatYAML Format = iota
	FormatXML
)

// FormatForPath picks the encoding from a file extension; anything other
// than .xml is written as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".xml") {
		return FormatXML
	}
	return FormatYAML
}

// DetectFormat sniffs raw content, since downloaded sources do not always
// carry a meaningful extension.
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return FormatXML
	}
	return FormatYAML
}

// xmlDocument mirrors <config><envs><env/></envs><packages><package/></packages></config>.
type xmlDocument struct {
	XMLName  xml.Name     `xml:"config"`
	Envs     []EnvVar     `xml:"envs>env"`
	Packages []PackageRef `xml:"packages>package"`
}

// Parse decodes data in the sniffed format and validates the result.
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	switch DetectFormat(data) {
	case FormatXML:
		var x xmlDocument
		if err := xml.Unmarshal(data, &x); err != nil {
			return nil, fmt.Errorf("unable to parse XML document: %w", err)
		}
		doc.Packages = x.Packages
		doc.Envs = x.Envs
	default:
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("unable to parse YAML document: %w", err)
		}
	}
	if doc.Packages == nil {
		doc.Packages = []PackageRef{}
	}
	if doc.Envs == nil {
		doc.Envs = []EnvVar{}
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return doc, nil
}

// Marshal encodes doc in the requested format.
func Marshal(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatXML:
		data, err := xml.MarshalIndent(xmlDocument{Envs: doc.Envs, Packages: doc.Packages}, "", "  ")
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), append(data, '\n')...), nil
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
