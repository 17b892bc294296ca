// Package nxschema validates a tree against base-class definitions.
//
// Classes are described declaratively in YAML: for each class name the
// definition lists the child-group classes it expects and the fields it
// knows, with optional dtype and required markers. A bundled definition
// set covering the common base classes ships embedded in the binary;
// callers can load their own with Parse to extend or replace it.
//
// Validation is advisory. Trees are free to contain groups and fields
// the definitions never mention; only explicit contradictions (a missing
// required field, a field stored with the wrong dtype) are reported as
// errors, everything else is at most a warning.
package nxschema

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nexusformat/nxtree/pkg/container"
	"github.com/nexusformat/nxtree/pkg/tree"
)

//go:embed classes.yaml
var bundledClasses []byte

// ============================================================================
// Definitions
// ============================================================================

// FieldDef describes one field a class is known to contain.
type FieldDef struct {
	Name     string `yaml:"name"`
	Dtype    string `yaml:"dtype"`
	Required bool   `yaml:"required"`
}

// GroupDef names a child-group class a class is known to contain.
type GroupDef struct {
	Class string `yaml:"class"`
}

// ClassDef is the full definition of one class.
type ClassDef struct {
	Description string     `yaml:"description"`
	Groups      []GroupDef `yaml:"groups"`
	Fields      []FieldDef `yaml:"fields"`
}

type document struct {
	Classes map[string]ClassDef `yaml:"classes"`
}

// Schema is an immutable set of class definitions.
type Schema struct {
	classes map[string]ClassDef
}

// Parse loads class definitions from YAML. Every dtype named in the
// definitions must be a canonical dtype name.
func Parse(data []byte) (*Schema, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing class definitions: %w", err)
	}
	for class, def := range doc.Classes {
		for _, f := range def.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("class %s: field with empty name", class)
			}
			if f.Dtype != "" {
				if _, ok := container.ParseDtype(f.Dtype); !ok {
					return nil, fmt.Errorf("class %s: field %s: unknown dtype %q",
						class, f.Name, f.Dtype)
				}
			}
		}
	}
	return &Schema{classes: doc.Classes}, nil
}

var (
	defaultOnce   sync.Once
	defaultSchema *Schema
)

// Default returns the bundled base-class definitions.
func Default() *Schema {
	defaultOnce.Do(func() {
		s, err := Parse(bundledClasses)
		if err != nil {
			// The bundled file is compiled in; failing to parse it is a
			// build defect, not a runtime condition.
			panic(fmt.Sprintf("nxschema: bundled definitions invalid: %v", err))
		}
		defaultSchema = s
	})
	return defaultSchema
}

// Class returns the definition registered for name.
func (s *Schema) Class(name string) (ClassDef, bool) {
	def, ok := s.classes[name]
	return def, ok
}

// Len returns the number of registered classes.
func (s *Schema) Len() int { return len(s.classes) }

// ============================================================================
// Reports
// ============================================================================

// Severity classifies an issue.
type Severity int

const (
	// Warning marks a deviation the definitions cannot confirm, such as
	// an unknown class name.
	Warning Severity = iota
	// Error marks a direct contradiction of a definition.
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Issue is one finding at one node.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Report collects the issues found in one validation pass.
type Report struct {
	Issues []Issue
}

// HasErrors reports whether any issue has Error severity.
func (r *Report) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity == Error {
			return true
		}
	}
	return false
}

func (r *Report) add(sev Severity, path, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Severity: sev,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	})
}

// ============================================================================
// Validation
// ============================================================================

// Validate walks the subtree rooted at g and checks every tagged group
// against its class definition. Untagged groups are skipped but their
// children are still visited. Pass &root.Group to validate a whole tree;
// an untagged top-level group is treated as NXroot.
func (s *Schema) Validate(g *tree.Group) *Report {
	report := &Report{}
	class := g.Class()
	if class == "" && g.Parent() == nil {
		class = "NXroot"
	}
	s.validateGroup(g, class, report)
	return report
}

func (s *Schema) validateGroup(g *tree.Group, class string, report *Report) {
	var def ClassDef
	known := false
	if class != "" {
		def, known = s.classes[class]
		if !known {
			report.add(Warning, g.Path(), "unknown class %q", class)
		}
	}

	if known {
		s.checkRequired(g, class, def, report)
	}

	for _, child := range g.Children() {
		switch c := child.(type) {
		case *tree.Group:
			if known {
				s.checkChildGroup(c, class, def, report)
			}
			s.validateGroup(c, c.Class(), report)
		case *tree.Field:
			if known {
				s.checkField(c, class, def, report)
			}
		}
	}
}

// checkRequired reports required fields the group does not carry.
func (s *Schema) checkRequired(g *tree.Group, class string, def ClassDef, report *Report) {
	for _, fd := range def.Fields {
		if !fd.Required {
			continue
		}
		child, ok := g.Child(fd.Name)
		if !ok {
			report.add(Error, g.Path(), "class %s requires field %q", class, fd.Name)
			continue
		}
		if child.Kind() != container.KindField {
			report.add(Error, g.Path(), "class %s requires %q to be a field, found %s",
				class, fd.Name, child.Kind())
		}
	}
}

// checkChildGroup warns when a class that enumerates child-group classes
// contains one it does not list. Definitions with no group list accept
// any child group.
func (s *Schema) checkChildGroup(child *tree.Group, class string, def ClassDef, report *Report) {
	if len(def.Groups) == 0 {
		return
	}
	childClass := child.Class()
	if childClass == "" {
		return
	}
	for _, gd := range def.Groups {
		if gd.Class == childClass {
			return
		}
	}
	report.add(Warning, child.Path(), "class %s not listed among children of %s",
		childClass, class)
}

// checkField verifies the stored dtype against the definition. Fields the
// definition does not mention pass silently.
func (s *Schema) checkField(f *tree.Field, class string, def ClassDef, report *Report) {
	for _, fd := range def.Fields {
		if fd.Name != f.Name() || fd.Dtype == "" {
			continue
		}
		want, _ := container.ParseDtype(fd.Dtype)
		if f.Dtype() != want {
			report.add(Error, f.Path(), "class %s declares %s as %s, stored as %s",
				class, f.Name(), fd.Dtype, f.Dtype())
		}
		return
	}
}
