package catalog

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"sessioncore/internal/parser"
)

// LoadDir reads every *.md NPC document under dir and builds a catalog.
// Files are visited in path order so index assignment is stable.
func LoadDir(dir string, finaleIDs []string) (*Catalog, error) {
	files, err := walkMarkdownFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrEmptyCatalog)
	}

	records := make([]Record, 0, len(files))
	for _, path := range files {
		doc, err := parser.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		records = append(records, FromDocument(doc))
	}
	return New(records, finaleIDs)
}

func FromDocument(doc *parser.Document) Record {
	return Record{
		ID:               doc.ID,
		Name:             doc.Name,
		Origin:           doc.Origin,
		Crisis:           doc.Crisis,
		OpeningStatement: doc.OpeningStatement,
		Session:          doc.Session,
		HabitatImageRef:  doc.HabitatImage,
		OfficeImageRef:   doc.OfficeImage,
		Gender:           doc.Gender,
	}
}

func walkMarkdownFiles(root string) ([]string, error) {
	root = filepath.Clean(root)
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
