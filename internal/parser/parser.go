package parser

import (
	"bytes"
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one NPC file: YAML frontmatter plus a Markdown body holding the crisis backstory.
type Document struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Origin           string `yaml:"origin"`
	Gender           string `yaml:"gender"`
	Session          string `yaml:"session"`
	HabitatImage     string `yaml:"habitat_image"`
	OfficeImage      string `yaml:"office_image"`
	OpeningStatement string `yaml:"opening_statement"`

	Crisis     string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

var (
	ErrNoFrontmatter = errors.New("no frontmatter found")
	ErrInvalidYAML   = errors.New("invalid YAML in frontmatter")
	ErrMissingID     = errors.New("frontmatter missing required 'id' field")
	ErrMissingName   = errors.New("frontmatter missing required 'name' field")
)

func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	doc.SourceFile = path
	return doc, nil
}

func Parse(content []byte) (*Document, error) {
	trimmed := bytes.TrimLeft(content, "\ufeff\n\r\t ")
	trimmed = bytes.ReplaceAll(trimmed, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(trimmed, []byte("---\n")) {
		return nil, ErrNoFrontmatter
	}

	rest := trimmed[len("---\n"):]
	var yamlBytes []byte
	var body string
	if end := bytes.Index(rest, []byte("---\n")); end != -1 {
		yamlBytes = rest[:end]
		body = string(rest[end+len("---\n"):])
	} else if bytes.HasSuffix(rest, []byte("\n---")) {
		yamlBytes = rest[:len(rest)-len("---")]
	} else {
		return nil, ErrNoFrontmatter
	}

	var doc Document
	if err := yaml.Unmarshal(yamlBytes, &doc); err != nil {
		return nil, ErrInvalidYAML
	}

	doc.ID = strings.TrimSpace(doc.ID)
	doc.Name = strings.TrimSpace(doc.Name)
	if doc.ID == "" {
		return nil, ErrMissingID
	}
	if doc.Name == "" {
		return nil, ErrMissingName
	}
	doc.OpeningStatement = strings.TrimSpace(doc.OpeningStatement)
	doc.Crisis = strings.TrimSpace(body)

	return &doc, nil
}
