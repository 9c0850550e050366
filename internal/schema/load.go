package schema

import (
	"fmt"

	pkgconfig "github.com/starford/raido/pkg/config"
)

// LoadModel reads a YAML model file of the form
//
//	entities:
//	  - name: JournalEntry
//	    attributes:
//	      - {name: content, type: string}
//	      - {name: timestamp, type: date, optional: true}
func LoadModel(path string) (*Model, error) {
	var m Model
	if err := pkgconfig.Load(path, &m); err != nil {
		return nil, fmt.Errorf("schema: load model: %w", err)
	}
	return &m, nil
}
