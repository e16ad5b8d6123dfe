package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/systemshift/bizops/internal/core"
)

// Source is the raw content of a schema directory
type Source struct {
	// Types maps file name to the YAML of one type
	Types          map[string][]byte
	Enums          []byte
	StringPatterns []byte
}

// enumDef accepts either a plain list of options or {description, options}
type enumDef struct {
	Description string   `yaml:"description"`
	Options     []string `yaml:"options"`
}

func (e *enumDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		return node.Decode(&e.Options)
	}
	type plain enumDef
	return node.Decode((*plain)(e))
}

// LoadDir reads types/*.yaml, enums.yaml and string-patterns.yaml from dir
func LoadDir(dir string) (*Snapshot, error) {
	src, err := ReadDir(dir)
	if err != nil {
		return nil, err
	}
	return Compile(src)
}

// ReadDir collects the files of a schema directory without parsing them
func ReadDir(dir string) (Source, error) {
	src := Source{Types: make(map[string][]byte)}

	typeDir := filepath.Join(dir, "types")
	entries, err := os.ReadDir(typeDir)
	if err != nil {
		return src, fmt.Errorf("reading schema types: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(typeDir, name))
		if err != nil {
			return src, fmt.Errorf("reading schema type %s: %w", name, err)
		}
		src.Types[name] = data
	}

	if src.Enums, err = readOptional(filepath.Join(dir, "enums.yaml")); err != nil {
		return src, err
	}
	if src.StringPatterns, err = readOptional(filepath.Join(dir, "string-patterns.yaml")); err != nil {
		return src, err
	}
	return src, nil
}

func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// Version hashes the source so unchanged reloads can be skipped
func (src Source) Version() string {
	h := sha256.New()
	names := make([]string, 0, len(src.Types))
	for name := range src.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Write([]byte(name))
		h.Write(src.Types[name])
	}
	h.Write([]byte("enums"))
	h.Write(src.Enums)
	h.Write([]byte("string-patterns"))
	h.Write(src.StringPatterns)
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// Compile parses and cross-checks a schema source
func Compile(src Source) (*Snapshot, error) {
	snap := &Snapshot{
		Version:        src.Version(),
		Types:          make(map[string]*Type),
		Enums:          make(map[string][]string),
		StringPatterns: make(map[string]string),
	}

	if len(src.StringPatterns) > 0 {
		if err := yaml.Unmarshal(src.StringPatterns, &snap.StringPatterns); err != nil {
			return nil, fmt.Errorf("parsing string-patterns.yaml: %w", err)
		}
	}
	compiled := make(map[string]*regexp.Regexp, len(snap.StringPatterns))
	for name, expr := range snap.StringPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("string pattern %s: %w", name, err)
		}
		compiled[name] = re
	}

	if len(src.Enums) > 0 {
		var enums map[string]enumDef
		if err := yaml.Unmarshal(src.Enums, &enums); err != nil {
			return nil, fmt.Errorf("parsing enums.yaml: %w", err)
		}
		for name, def := range enums {
			if len(def.Options) == 0 {
				return nil, fmt.Errorf("enum %s has no options", name)
			}
			snap.Enums[name] = def.Options
		}
	}

	names := make([]string, 0, len(src.Types))
	for name := range src.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, file := range names {
		var t Type
		if err := yaml.Unmarshal(src.Types[file], &t); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		if !core.TypeNamePattern.MatchString(t.Name) {
			return nil, fmt.Errorf("%s: invalid type name %q", file, t.Name)
		}
		if _, dup := snap.Types[t.Name]; dup {
			return nil, fmt.Errorf("%s: type %s declared twice", file, t.Name)
		}
		if t.Properties == nil {
			t.Properties = make(map[string]*Property)
		}
		snap.Types[t.Name] = &t
	}

	for _, t := range snap.Types {
		if err := resolveType(snap, t, compiled); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func resolveType(snap *Snapshot, t *Type, patterns map[string]*regexp.Regexp) error {
	for name, p := range t.Properties {
		if p == nil {
			return fmt.Errorf("type %s: property %s has no definition", t.Name, name)
		}
		p.Name = name
		// legacy names such as SF_ID are allowed here; the sanitizer decides
		// which names clients may write
		if name == "" || core.IsMetadataKey(name) {
			return fmt.Errorf("type %s: invalid property name %q", t.Name, name)
		}

		if p.Pattern != "" {
			re, ok := patterns[p.Pattern]
			if !ok {
				return fmt.Errorf("type %s: property %s uses unknown pattern %s", t.Name, name, p.Pattern)
			}
			p.pattern = re
		}

		switch {
		case p.Relationship != "":
			if _, ok := snap.Types[p.Type]; !ok {
				return fmt.Errorf("type %s: relationship %s points at unknown type %s", t.Name, name, p.Type)
			}
			if !core.RelationshipTypePattern.MatchString(p.Relationship) {
				return fmt.Errorf("type %s: invalid relationship name %q", t.Name, p.Relationship)
			}
			dir, ok := core.ParseDirection(string(p.Direction))
			if !ok {
				return fmt.Errorf("type %s: relationship %s has invalid direction %q", t.Name, name, p.Direction)
			}
			p.Direction = dir
		case IsPrimitive(p.Type):
		case p.Type == "":
			p.Type = KindString
		default:
			options, ok := snap.Enums[p.Type]
			if !ok {
				if _, isType := snap.Types[p.Type]; isType {
					return fmt.Errorf("type %s: property %s references %s without a relationship", t.Name, name, p.Type)
				}
				return fmt.Errorf("type %s: property %s has unknown type %s", t.Name, name, p.Type)
			}
			p.enum = options
		}
	}

	if code, ok := t.Properties[core.PropCode]; ok && code.pattern != nil {
		t.codePattern = code.pattern
	}
	return nil
}
