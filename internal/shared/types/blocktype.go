package types

import "time"

// Strictness controls how payload validation failures are treated
type Strictness string

const (
	// StrictnessStrict rejects writes that fail validation
	StrictnessStrict Strictness = "STRICT"
	// StrictnessSoft persists writes and records issues in validation meta
	StrictnessSoft Strictness = "SOFT"
)

// Nesting is the child policy of a block type. Max <= 0 means unlimited.
// Max and AllowDuplicates are enforced per slot.
type Nesting struct {
	Max             int      `json:"max,omitempty"`
	AllowedTypes    []string `json:"allowed_types,omitempty"`
	AllowDuplicates bool     `json:"allow_duplicates"`
}

// Allows reports whether a child of the given type key may be nested
func (n *Nesting) Allows(typeKey string) bool {
	if n == nil {
		return false
	}
	if len(n.AllowedTypes) == 0 {
		return true
	}
	for _, t := range n.AllowedTypes {
		if t == typeKey {
			return true
		}
	}
	return false
}

// Display groups the form hints and the render structure of a type
type Display struct {
	Form   map[string]any        `json:"form,omitempty"`
	Render *BlockRenderStructure `json:"render,omitempty"`
}

// BlockType is one immutable version of a block type. Updates publish a new
// row with Version+1 under the same Key.
type BlockType struct {
	ID             string      `json:"id"`
	Key            string      `json:"key"`
	OrganisationID string      `json:"organisation_id,omitempty"`
	Version        int         `json:"version"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Kind           PayloadKind `json:"kind"`
	Schema         *Schema     `json:"schema,omitempty"`
	Display        Display     `json:"display"`
	Nesting        *Nesting    `json:"nesting,omitempty"`
	Strictness     Strictness  `json:"strictness"`
	System         bool        `json:"system"`
	Archived       bool        `json:"archived"`
	ForkedFrom     string      `json:"forked_from,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IsLeaf reports whether blocks of this type cannot have children
func (t *BlockType) IsLeaf() bool {
	return t.Nesting == nil
}

// VisibleTo reports whether the type can be used by the organisation
func (t *BlockType) VisibleTo(orgID string) bool {
	return t.System || t.OrganisationID == "" || t.OrganisationID == orgID
}

// Schema is the JSON-schema subset used to validate content payloads
type Schema struct {
	Type                 string             `json:"type,omitempty"`
	Title                string             `json:"title,omitempty"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Format               string             `json:"format,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Default              any                `json:"default,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	AdditionalProperties *bool              `json:"additionalProperties,omitempty"`
}

// Defaults builds an instance filled with the declared default values
func (s *Schema) Defaults() map[string]any {
	out := map[string]any{}
	if s == nil {
		return out
	}
	for name, prop := range s.Properties {
		if prop == nil {
			continue
		}
		switch {
		case prop.Default != nil:
			out[name] = cloneValue(prop.Default)
		case prop.Type == "object" && len(prop.Properties) > 0:
			if nested := prop.Defaults(); len(nested) > 0 {
				out[name] = nested
			}
		}
	}
	return out
}
