// Package catalog loads and validates the Tool Catalogue (spec.md §3, §6
// "Tool catalogue file"): the read-once, read-only registry of containerized
// security tools consulted by both the Strategic Planner (safety filter) and
// the Execution Engine (parameter validation, image/argv resolution).
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Mount describes a container bind mount for a catalogue entry.
type Mount struct {
	HostPath      string `json:"hostPath"`
	ContainerPath string `json:"containerPath"`
	ReadOnly      bool   `json:"readOnly"`
}

// Entry is a single Tool Catalogue entry (spec.md §3).
type Entry struct {
	Name             string            `json:"name"`
	Image            string            `json:"image"`
	Command          []string          `json:"command"`
	AllowedFlags     []string          `json:"allowedFlags"`
	ForbiddenFlags   []string          `json:"forbiddenFlags"`
	RequiredParams   []string          `json:"requiredParams"`
	DefaultParams    map[string]any    `json:"defaultParams"`
	DefaultArgv      []string          `json:"defaultArgv"`
	Mounts           []Mount           `json:"mounts"`
	MaxTimeoutMS     int64             `json:"maxTimeoutMs"`
	MaxRetries       int               `json:"maxRetries"`
	ParameterSchema  json.RawMessage   `json:"parameterSchema,omitempty"`
	OutputParser     string            `json:"outputParser"`
}

// defaultDenylist is applied regardless of whether a catalogue file is
// present (spec.md §6: "If the file is absent, validation is permissive ...
// but safety denylist still applies").
var defaultDenylist = []string{"rm", "delete", "drop", "destroy", "wipe"}

// Catalog is the read-once, read-only Tool Catalogue.
type Catalog struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	denylist []string
	present  bool // false when no catalogue file was loaded (permissive mode)
	schemas  map[string]*jsonschema.Schema
}

// Empty returns a Catalog with no entries, operating in permissive mode:
// any tool name is accepted but the safety denylist still applies.
func Empty() *Catalog {
	return &Catalog{entries: map[string]Entry{}, denylist: defaultDenylist}
}

// Load reads a JSON array of catalogue entries from path (spec.md §6 "Tool
// catalogue file ... Read once at startup"). Each entry's ParameterSchema,
// if present, is compiled once so ValidateSchema can reuse it cheaply.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	var raw []Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	c := &Catalog{
		entries:  make(map[string]Entry, len(raw)),
		denylist: defaultDenylist,
		present:  true,
		schemas:  make(map[string]*jsonschema.Schema, len(raw)),
	}
	compiler := jsonschema.NewCompiler()
	for _, e := range raw {
		if e.Name == "" {
			return nil, fmt.Errorf("catalogue entry missing name")
		}
		c.entries[e.Name] = e
		if len(e.ParameterSchema) == 0 {
			continue
		}
		url := "mem://catalogue/" + e.Name
		if err := compiler.AddResource(url, strings.NewReader(string(e.ParameterSchema))); err != nil {
			return nil, fmt.Errorf("catalogue %s: add schema: %w", e.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("catalogue %s: compile schema: %w", e.Name, err)
		}
		c.schemas[e.Name] = schema
	}
	return c, nil
}

// Present reports whether a catalogue file was actually loaded. When false,
// Lookup accepts any tool name (permissive mode) and IsKnown always returns
// true, but the safety denylist still applies.
func (c *Catalog) Present() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.present
}

// Lookup returns the catalogue entry for tool. In permissive mode (no
// catalogue file loaded) a synthetic unrestricted Entry is returned instead
// of an error.
func (c *Catalog) Lookup(tool string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[tool]
	if ok {
		return e, true
	}
	if !c.present {
		return Entry{Name: tool, MaxTimeoutMS: 0, MaxRetries: 1}, true
	}
	return Entry{}, false
}

// IsKnown reports whether tool is in the catalogue. Always true in
// permissive mode.
func (c *Catalog) IsKnown(tool string) bool {
	_, ok := c.Lookup(tool)
	return ok
}

// ValidateSchema runs the tool's compiled JSON Schema (if any) against
// params. Absent a schema, validation trivially succeeds.
func (c *Catalog) ValidateSchema(tool string, params map[string]any) error {
	c.mu.RLock()
	schema, ok := c.schemas[tool]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return schema.Validate(params)
}

// Denylist returns the forbidden-verb substrings applied to every
// recommendation's serialized parameters, regardless of catalogue presence.
func (c *Catalog) Denylist() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.denylist))
	copy(out, c.denylist)
	return out
}

// ContainsForbidden reports whether s contains any denylist substring or any
// of entry's catalogue-level forbidden flags.
func (c *Catalog) ContainsForbidden(tool, s string) bool {
	lower := strings.ToLower(s)
	for _, frag := range c.Denylist() {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	if e, ok := c.Lookup(tool); ok {
		for _, f := range e.ForbiddenFlags {
			if f != "" && strings.Contains(lower, strings.ToLower(f)) {
				return true
			}
		}
	}
	return false
}

// Names returns every tool name in the catalogue (empty in permissive mode).
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for name := range c.entries {
		out = append(out, name)
	}
	return out
}
