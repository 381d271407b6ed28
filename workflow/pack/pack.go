// Package pack implements the read-only pack catalog: template blueprints
// grouped by source pack, defined in YAML.
package pack

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/opsflow/workflow"
	"gopkg.in/yaml.v3"
)

// Definition is the YAML form of one pack.
//
//	key: generic
//	name: Generic operations
//	templates:
//	  - key: employee-onboarding
//	    workflow_type: onboarding
//	    name: Employee onboarding
//	    editable_fields: [name, description, steps]
//	    steps:
//	      - type: form
//	        title: Collect personal details
//	        sort_order: 1
type Definition struct {
	Key         string               `yaml:"key"`
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Templates   []TemplateDefinition `yaml:"templates"`
}

// TemplateDefinition is the YAML form of one template blueprint.
type TemplateDefinition struct {
	Key            string                `yaml:"key"`
	WorkflowType   workflow.WorkflowType `yaml:"workflow_type"`
	Name           string                `yaml:"name"`
	Description    string                `yaml:"description"`
	Locked         bool                  `yaml:"locked"`
	EditableFields []workflow.FieldName  `yaml:"editable_fields"`
	Steps          []workflow.StepSpec   `yaml:"steps"`
}

// Pack is a validated pack with its templates.
type Pack struct {
	Key         string
	Name        string
	Description string
	Templates   []workflow.PackTemplate
}

var knownFields = map[workflow.FieldName]bool{
	workflow.FieldWorkflowName: true,
	workflow.FieldDescription:  true,
	workflow.FieldSteps:        true,
	workflow.FieldWorkflowType: true,
}

// Normalized validates the definition and converts it to a Pack.
func (d Definition) Normalized() (Pack, error) {
	key := strings.TrimSpace(d.Key)
	if key == "" {
		return Pack{}, fmt.Errorf("pack: key is required")
	}
	if strings.Contains(key, "/") {
		return Pack{}, fmt.Errorf("pack %s: key cannot contain '/'", key)
	}
	p := Pack{
		Key:         key,
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
	}
	if p.Name == "" {
		p.Name = key
	}

	seen := make(map[string]bool, len(d.Templates))
	for i, td := range d.Templates {
		t, err := td.normalized(key)
		if err != nil {
			return Pack{}, fmt.Errorf("pack %s: template %d: %w", key, i+1, err)
		}
		if seen[t.ID()] {
			return Pack{}, fmt.Errorf("pack %s: duplicate template %s", key, t.ID())
		}
		seen[t.ID()] = true
		p.Templates = append(p.Templates, t)
	}
	return p, nil
}

func (td TemplateDefinition) normalized(packKey string) (workflow.PackTemplate, error) {
	key := strings.TrimSpace(td.Key)
	if key == "" {
		return workflow.PackTemplate{}, fmt.Errorf("key is required")
	}
	if td.WorkflowType == "" {
		return workflow.PackTemplate{}, fmt.Errorf("%s: workflow_type is required", key)
	}
	name := strings.TrimSpace(td.Name)
	if name == "" {
		return workflow.PackTemplate{}, fmt.Errorf("%s: name is required", key)
	}
	for _, f := range td.EditableFields {
		if !knownFields[f] {
			return workflow.PackTemplate{}, fmt.Errorf("%s: unknown editable field %q", key, f)
		}
	}
	steps, err := workflow.NormalizeSteps(td.Steps)
	if err != nil {
		return workflow.PackTemplate{}, fmt.Errorf("%s: %w", key, err)
	}
	return workflow.PackTemplate{
		PackKey:        packKey,
		TemplateKey:    key,
		WorkflowType:   td.WorkflowType,
		Name:           name,
		Description:    strings.TrimSpace(td.Description),
		Locked:         td.Locked,
		EditableFields: append([]workflow.FieldName(nil), td.EditableFields...),
		Steps:          steps,
	}, nil
}

// ParsePackYAML decodes and validates a pack definition.
func ParsePackYAML(data []byte) (Pack, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Pack{}, fmt.Errorf("pack: definition payload is empty")
	}
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Pack{}, fmt.Errorf("pack: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadReader reads a pack definition from r.
func LoadReader(r io.Reader) (Pack, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Pack{}, fmt.Errorf("pack: read definition: %w", err)
	}
	return ParsePackYAML(content)
}

// LoadFile loads a pack definition from a file path.
func LoadFile(path string) (Pack, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Pack{}, fmt.Errorf("pack: read %s: %w", path, err)
	}
	p, parseErr := ParsePackYAML(content)
	if parseErr != nil {
		return Pack{}, fmt.Errorf("pack: %s: %w", path, parseErr)
	}
	return p, nil
}

// LoadFS loads every *.yaml and *.yml file in dir of fsys, in name order.
func LoadFS(fsys fs.FS, dir string) ([]Pack, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("pack: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(path.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	packs := make([]Pack, 0, len(names))
	for _, name := range names {
		p := path.Join(dir, name)
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("pack: read %s: %w", p, err)
		}
		pk, err := ParsePackYAML(content)
		if err != nil {
			return nil, fmt.Errorf("pack: %s: %w", p, err)
		}
		packs = append(packs, pk)
	}
	return packs, nil
}

// LoadDir loads every pack definition in a directory on disk.
func LoadDir(dir string) ([]Pack, error) {
	return LoadFS(os.DirFS(filepath.Clean(dir)), ".")
}
