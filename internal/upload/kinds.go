package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"contentflow/internal/ordering"

	"gopkg.in/yaml.v3"
)

// KindName identifies a content kind, e.g. "video".
type KindName string

const (
	KindVideo    KindName = "video"
	KindMaterial KindName = "material"
)

const mib = 1 << 20

// Kind is one row of the content-kind table: what a kind accepts and what
// happens to it after transfer.
type Kind struct {
	Name KindName `yaml:"name"`
	// Resource is the ordered collection the finished upload is appended to.
	Resource   string   `yaml:"resource"`
	Extensions []string `yaml:"extensions"`
	MaxBytes   int64    `yaml:"maxBytes"`
	// MediaPrefixes are the detected content types the sniff step accepts.
	MediaPrefixes []string `yaml:"mediaPrefixes"`
	Steps         []string `yaml:"steps"`
}

// Allows reports whether fileName has one of the kind's extensions.
func (k Kind) Allows(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	return ext != "" && slices.Contains(k.Extensions, ext)
}

// KindTable maps kind names to their variant.
type KindTable map[KindName]Kind

// Lookup returns the kind or false if it is not configured.
func (t KindTable) Lookup(name KindName) (Kind, bool) {
	k, ok := t[name]
	return k, ok
}

// DefaultKinds returns the built-in table.
func DefaultKinds() KindTable {
	return KindTable{
		KindVideo: {
			Name:          KindVideo,
			Resource:      "videos",
			Extensions:    []string{".mp4", ".webm", ".mov", ".mkv", ".avi"},
			MaxBytes:      500 * mib,
			MediaPrefixes: []string{"video/"},
			Steps:         []string{StepSniff, StepFingerprint},
		},
		KindMaterial: {
			Name:     KindMaterial,
			Resource: "materials",
			Extensions: []string{
				".pdf", ".doc", ".docx", ".ppt", ".pptx", ".xls", ".xlsx", ".txt",
			},
			MaxBytes:      50 * mib,
			MediaPrefixes: []string{"application/", "text/"},
			Steps:         []string{StepSniff, StepFingerprint, StepPageCount},
		},
	}
}

type kindsFile struct {
	Kinds []Kind `yaml:"kinds"`
}

// LoadKinds reads a YAML kinds file and merges it over DefaultKinds. Kinds
// with a known name replace the built-in row; new names are added.
func LoadKinds(path string) (KindTable, error) {
	table := DefaultKinds()
	if path == "" {
		return table, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kinds file: %w", err)
	}
	var f kindsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse kinds file %s: %w", path, err)
	}

	for _, k := range f.Kinds {
		if err := k.validate(); err != nil {
			return nil, fmt.Errorf("kinds file %s: %w", path, err)
		}
		for i, ext := range k.Extensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			k.Extensions[i] = ext
		}
		table[k.Name] = k
	}
	return table, nil
}

func (k Kind) validate() error {
	switch {
	case k.Name == "":
		return fmt.Errorf("kind without name")
	case k.Resource == "":
		return fmt.Errorf("kind %q: resource is required", k.Name)
	}
	if _, err := ordering.ParseResource(k.Resource); err != nil {
		return fmt.Errorf("kind %q: %w", k.Name, err)
	}
	switch {
	case len(k.Extensions) == 0:
		return fmt.Errorf("kind %q: at least one extension is required", k.Name)
	case k.MaxBytes <= 0:
		return fmt.Errorf("kind %q: maxBytes must be positive", k.Name)
	}
	return nil
}
