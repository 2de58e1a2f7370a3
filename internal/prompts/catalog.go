package prompts

import (
	"io/fs"
	"sort"

	"gopkg.in/yaml.v3"

	oerr "oape/internal/errors"
)

// Command describes one entry in the command catalog. Instructions and skill
// paths are relative to the catalog root.
type Command struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	Instructions string   `yaml:"instructions" json:"-"`
	Skills       []string `yaml:"skills,omitempty" json:"-"`
}

// Catalog is the parsed commands.yaml: the base context files to try in
// order, skills shared by every command, and the command list itself.
type Catalog struct {
	BaseContext  []string  `yaml:"base_context"`
	CommonSkills []string  `yaml:"common_skills"`
	Commands     []Command `yaml:"commands"`
}

const catalogFile = "catalog.yaml"

func parseCatalog(fsys fs.FS) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, catalogFile)
	if err != nil {
		return nil, oerr.Wrap(oerr.KindInvalidInput, err, "command catalog %s not readable", catalogFile)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, oerr.Wrap(oerr.KindInvalidInput, err, "command catalog %s is not valid YAML", catalogFile)
	}
	if len(catalog.Commands) == 0 {
		return nil, oerr.New(oerr.KindInvalidInput, "command catalog %s defines no commands", catalogFile)
	}

	sort.Slice(catalog.Commands, func(i, j int) bool {
		return catalog.Commands[i].Name < catalog.Commands[j].Name
	})
	return &catalog, nil
}
