// Package schema holds the declarative per-category document definitions:
// field schemas with extraction patterns and validation rules, category
// aliases for mapping, and weighted classification patterns. The tables live
// in an embedded YAML file and are compiled once into a Registry; pipeline
// logic stays generic over this data.
package schema

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docintel/internal/model"
)

//go:embed schemas.yaml
var schemasYAML []byte

// Field describes one canonical field of a category schema.
type Field struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Required    bool     `yaml:"required"`
	Validation  string   `yaml:"validation,omitempty"`
	Validator   string   `yaml:"validator,omitempty"` // named custom validator
	Aliases     []string `yaml:"aliases,omitempty"`
	Patterns    []string `yaml:"patterns,omitempty"`
	MinLength   int      `yaml:"min_length,omitempty"`
	MaxLength   int      `yaml:"max_length,omitempty"`

	ValidationRegex *regexp.Regexp   `yaml:"-"`
	PatternRegexes  []*regexp.Regexp `yaml:"-"`
}

// CategorySchema is the full declarative definition of one category.
type CategorySchema struct {
	Category model.Category

	Prompt           string   `yaml:"prompt"`
	ClassifyWeight   float64  `yaml:"classify_weight"`
	ClassifyPatterns []string `yaml:"classify_patterns"`
	Fields           []Field  `yaml:"fields"`

	ClassifyRegexes []*regexp.Regexp `yaml:"-"`

	byName map[string]*Field
}

// AliasPattern maps a raw field-name regex to a canonical field.
type AliasPattern struct {
	Canonical string `yaml:"canonical"`
	Pattern   string `yaml:"pattern"`

	Regex *regexp.Regexp `yaml:"-"`
}

type schemaFile struct {
	CommonAliases map[string][]string        `yaml:"common_aliases"`
	AliasPatterns []AliasPattern             `yaml:"alias_patterns"`
	Categories    map[string]*CategorySchema `yaml:"categories"`
}

// Registry is the compiled, indexed view of schemas.yaml.
type Registry struct {
	categories map[model.Category]*CategorySchema
	// commonAliases maps a normalized alias to its canonical field name,
	// shared across categories.
	commonAliases map[string]string
	aliasPatterns []AliasPattern
}

// Load parses and compiles the embedded schema tables. Called once at startup.
func Load() (*Registry, error) {
	var file schemaFile
	if err := yaml.Unmarshal(schemasYAML, &file); err != nil {
		return nil, eris.Wrap(err, "schema: unmarshal")
	}

	r := &Registry{
		categories:    make(map[model.Category]*CategorySchema, len(file.Categories)),
		commonAliases: make(map[string]string),
	}

	for name, cs := range file.Categories {
		cat := model.NormalizeCategory(name)
		if cat == model.CategoryUnknown {
			return nil, eris.Errorf("schema: unknown category %q", name)
		}
		cs.Category = cat
		cs.byName = make(map[string]*Field, len(cs.Fields))

		for _, p := range cs.ClassifyPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, eris.Wrapf(err, "schema: %s classify pattern %q", name, p)
			}
			cs.ClassifyRegexes = append(cs.ClassifyRegexes, re)
		}

		for i := range cs.Fields {
			f := &cs.Fields[i]
			if f.Validation != "" {
				re, err := regexp.Compile(f.Validation)
				if err != nil {
					return nil, eris.Wrapf(err, "schema: %s.%s validation", name, f.Name)
				}
				f.ValidationRegex = re
			}
			for _, p := range f.Patterns {
				re, err := regexp.Compile(p)
				if err != nil {
					return nil, eris.Wrapf(err, "schema: %s.%s pattern %q", name, f.Name, p)
				}
				f.PatternRegexes = append(f.PatternRegexes, re)
			}
			cs.byName[f.Name] = f
		}
		r.categories[cat] = cs
	}

	for canonical, aliases := range file.CommonAliases {
		for _, a := range aliases {
			r.commonAliases[NormalizeName(a)] = canonical
		}
	}

	for _, ap := range file.AliasPatterns {
		re, err := regexp.Compile(ap.Pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "schema: alias pattern %q", ap.Pattern)
		}
		ap.Regex = re
		r.aliasPatterns = append(r.aliasPatterns, ap)
	}

	return r, nil
}

// ByCategory returns the schema for a category, or nil for categories
// without one (UNKNOWN).
func (r *Registry) ByCategory(cat model.Category) *CategorySchema {
	return r.categories[cat]
}

// Categories returns every category that has a schema.
func (r *Registry) Categories() []*CategorySchema {
	out := make([]*CategorySchema, 0, len(r.categories))
	for _, cs := range r.categories {
		out = append(out, cs)
	}
	return out
}

// CommonAlias resolves a normalized raw name through the cross-category
// alias table. Returns ("", false) on a miss.
func (r *Registry) CommonAlias(normalized string) (string, bool) {
	c, ok := r.commonAliases[normalized]
	return c, ok
}

// AliasPatterns returns the compiled alias regex table.
func (r *Registry) AliasPatterns() []AliasPattern {
	return r.aliasPatterns
}

// FieldByName returns the named field of the schema, or nil.
func (cs *CategorySchema) FieldByName(name string) *Field {
	if cs == nil {
		return nil
	}
	return cs.byName[name]
}

// Required returns the schema's required fields.
func (cs *CategorySchema) Required() []*Field {
	if cs == nil {
		return nil
	}
	var out []*Field
	for i := range cs.Fields {
		if cs.Fields[i].Required {
			out = append(out, &cs.Fields[i])
		}
	}
	return out
}

// NormalizeName canonicalizes a raw field name: lowercase, non-alphanumerics
// collapsed to single underscores, edges trimmed.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		isAlnum := r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
		if isAlnum {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
