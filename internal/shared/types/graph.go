package types

import "time"

// EntityType names the kind of a referenced entity. Resolvers register per type.
type EntityType string

// EntityBlock is the entity type under which blocks reference other blocks
const EntityBlock EntityType = "BLOCK"

// Entity is an opaque record returned by a resolver
type Entity map[string]any

// Ownership of a referenced entity
type Ownership string

const (
	OwnershipOwned  Ownership = "OWNED"
	OwnershipLinked Ownership = "LINKED"
)

// FetchPolicy controls whether references are resolved when a tree is built
type FetchPolicy string

const (
	FetchLazy  FetchPolicy = "LAZY"
	FetchEager FetchPolicy = "EAGER"
)

// Warning annotates a reference that could not be resolved
type Warning string

const (
	WarningMissing         Warning = "MISSING"
	WarningUnsupported     Warning = "UNSUPPORTED"
	WarningRequiresLoading Warning = "REQUIRES_LOADING"
)

// Edge links a parent block to an owned child. A child has at most one edge.
type Edge struct {
	ParentID   string    `json:"parent_id"`
	ChildID    string    `json:"child_id"`
	Slot       string    `json:"slot"`
	Path       string    `json:"path"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// StoredReference is a persisted link from a block to an external entity
type StoredReference struct {
	ID         string     `json:"id"`
	BlockID    string     `json:"block_id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Slot       string     `json:"slot"`
	Path       string     `json:"path"`
	OrderIndex int        `json:"order_index"`
	Ownership  Ownership  `json:"ownership"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Reference is the resolved view of a stored reference. Exactly one of
// Entity, Tree or Warning is set once resolution has run.
type Reference struct {
	ID         string       `json:"id"`
	EntityType EntityType   `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Path       string       `json:"path"`
	OrderIndex *int         `json:"order_index,omitempty"`
	Ownership  Ownership    `json:"ownership"`
	Entity     Entity       `json:"entity,omitempty"`
	Tree       *BlockTree   `json:"tree,omitempty"`
	Warning    *Warning     `json:"warning,omitempty"`
	Expand     *TreeOptions `json:"-"`
}

// WithWarning sets w and clears any resolved value
func (r *Reference) WithWarning(w Warning) *Reference {
	r.Entity = nil
	r.Tree = nil
	r.Warning = &w
	return r
}

// ReferenceFromStored builds an unresolved reference view
func ReferenceFromStored(s *StoredReference) *Reference {
	idx := s.OrderIndex
	return &Reference{
		ID:         s.ID,
		EntityType: s.EntityType,
		EntityID:   s.EntityID,
		Path:       s.Path,
		OrderIndex: &idx,
		Ownership:  s.Ownership,
	}
}

// TreeOptions bounds a tree expansion
type TreeOptions struct {
	MaxDepth   int  `json:"max_depth"`
	ExpandRefs bool `json:"expand_refs"`
}

// BlockTree is a block with its owned sub-trees up to MaxDepth
type BlockTree struct {
	MaxDepth   int        `json:"max_depth"`
	ExpandRefs bool       `json:"expand_refs"`
	Root       *BlockNode `json:"root"`
}

// BlockNode is one level of a BlockTree. Children and References are keyed by slot.
type BlockNode struct {
	Block      *Block                  `json:"block"`
	Children   map[string][]*BlockNode `json:"children,omitempty"`
	References map[string][]*Reference `json:"references,omitempty"`
	Truncated  bool                    `json:"truncated,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
}
