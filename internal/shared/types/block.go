package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
)

// PayloadKind discriminates the Payload variants
type PayloadKind string

const (
	PayloadContent         PayloadKind = "content"
	PayloadEntityReference PayloadKind = "entity_reference"
	PayloadBlockReference  PayloadKind = "block_reference"
)

// Valid reports whether k names a known variant
func (k PayloadKind) Valid() bool {
	switch k {
	case PayloadContent, PayloadEntityReference, PayloadBlockReference:
		return true
	}
	return false
}

// Payload is the closed sum of block payload variants.
// Implemented only by ContentPayload, EntityReferencePayload and BlockReferencePayload.
type Payload interface {
	Kind() PayloadKind
	sealedPayload()
}

// ContentPayload holds inline data validated against the block type schema
type ContentPayload struct {
	Data map[string]any `json:"data"`
	Meta ValidationMeta `json:"meta"`
}

// ValidationMeta records the outcome of the last validated merge
type ValidationMeta struct {
	TypeVersion int          `json:"type_version"`
	Valid       bool         `json:"valid"`
	Issues      []errs.Issue `json:"issues,omitempty"`
	ValidatedAt time.Time    `json:"validated_at"`
}

// EntityReferencePayload holds an ordered list of linked entities
type EntityReferencePayload struct {
	Meta EntityReferenceMetadata `json:"meta"`
}

// BlockReferencePayload holds a single link to another block tree
type BlockReferencePayload struct {
	Meta BlockReferenceMetadata `json:"meta"`
}

func (ContentPayload) Kind() PayloadKind         { return PayloadContent }
func (EntityReferencePayload) Kind() PayloadKind { return PayloadEntityReference }
func (BlockReferencePayload) Kind() PayloadKind  { return PayloadBlockReference }

func (ContentPayload) sealedPayload()         {}
func (EntityReferencePayload) sealedPayload() {}
func (BlockReferencePayload) sealedPayload()  {}

// DefaultReferenceSlot is the slot used by reference lists that do not name one
const DefaultReferenceSlot = "items"

// DefaultBlockLinkSlot is the slot used by single block links that do not name one
const DefaultBlockLinkSlot = "block"

// EntityReferenceMetadata declares a reference list. Items is the source of truth for
// order and membership; stored rows follow it.
type EntityReferenceMetadata struct {
	Slot            string          `json:"slot,omitempty"`
	Items           []ReferenceItem `json:"items"`
	FetchPolicy     FetchPolicy     `json:"fetch_policy,omitempty"`
	AllowDuplicates bool            `json:"allow_duplicates"`
	Presentation    Presentation    `json:"presentation,omitempty"`
	Projection      *Projection     `json:"projection,omitempty"`
}

// SlotKey returns the list slot, falling back to DefaultReferenceSlot
func (m *EntityReferenceMetadata) SlotKey() string {
	if m == nil || m.Slot == "" {
		return DefaultReferenceSlot
	}
	return m.Slot
}

// Policy returns the fetch policy, LAZY unless set
func (m *EntityReferenceMetadata) Policy() FetchPolicy {
	if m == nil || m.FetchPolicy == "" {
		return FetchLazy
	}
	return m.FetchPolicy
}

// BlockReferenceMetadata declares a single block link. A nil Item means unlinked.
type BlockReferenceMetadata struct {
	Slot        string         `json:"slot,omitempty"`
	Item        *ReferenceItem `json:"item,omitempty"`
	FetchPolicy FetchPolicy    `json:"fetch_policy,omitempty"`
}

// SlotKey returns the link slot, falling back to DefaultBlockLinkSlot
func (m *BlockReferenceMetadata) SlotKey() string {
	if m == nil || m.Slot == "" {
		return DefaultBlockLinkSlot
	}
	return m.Slot
}

// AsList views the single link as a one-item reference list
func (m *BlockReferenceMetadata) AsList() *EntityReferenceMetadata {
	list := &EntityReferenceMetadata{Slot: m.SlotKey(), FetchPolicy: m.FetchPolicy}
	if m.Item != nil {
		list.Items = []ReferenceItem{*m.Item}
	}
	return list
}

// ReferenceItem is one declared entry of a reference list
type ReferenceItem struct {
	EntityType EntityType   `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Ownership  Ownership    `json:"ownership,omitempty"`
	Expand     *TreeOptions `json:"expand,omitempty"`
}

// Block is a typed content node owned by an organisation
type Block struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name,omitempty"`
	TypeID         string    `json:"type_id"`
	TypeKey        string    `json:"type_key"`
	TypeVersion    int       `json:"type_version"`
	Payload        Payload   `json:"-"`
	Archived       bool      `json:"archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Data returns the inline data of a content block, nil for reference blocks
func (b *Block) Data() map[string]any {
	if p, ok := b.Payload.(ContentPayload); ok {
		return p.Data
	}
	return nil
}

// Clone returns a deep copy of the block
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	c := *b
	c.Payload = ClonePayload(b.Payload)
	return &c
}

type blockJSON struct {
	blockAlias
	Payload json.RawMessage `json:"payload"`
}

type blockAlias Block

// MarshalJSON encodes the block with its tagged payload
func (b Block) MarshalJSON() ([]byte, error) {
	payload, err := MarshalPayload(b.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(blockJSON{blockAlias: blockAlias(b), Payload: payload})
}

// UnmarshalJSON decodes the block and its tagged payload
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw blockJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Block(raw.blockAlias)
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		b.Payload = nil
		return nil
	}
	payload, err := UnmarshalPayload(raw.Payload)
	if err != nil {
		return err
	}
	b.Payload = payload
	return nil
}

type payloadEnvelope struct {
	Kind            PayloadKind             `json:"kind"`
	Content         *ContentPayload         `json:"content,omitempty"`
	EntityReference *EntityReferencePayload `json:"entity_reference,omitempty"`
	BlockReference  *BlockReferencePayload  `json:"block_reference,omitempty"`
}

// MarshalPayload encodes a payload as {"kind": ..., "<kind>": {...}}
func MarshalPayload(p Payload) ([]byte, error) {
	var env payloadEnvelope
	switch v := p.(type) {
	case nil:
		return []byte("null"), nil
	case ContentPayload:
		env = payloadEnvelope{Kind: PayloadContent, Content: &v}
	case EntityReferencePayload:
		env = payloadEnvelope{Kind: PayloadEntityReference, EntityReference: &v}
	case BlockReferencePayload:
		env = payloadEnvelope{Kind: PayloadBlockReference, BlockReference: &v}
	default:
		return nil, fmt.Errorf("unknown payload variant %T", p)
	}
	return json.Marshal(env)
}

// UnmarshalPayload decodes a payload produced by MarshalPayload
func UnmarshalPayload(data []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	switch env.Kind {
	case PayloadContent:
		if env.Content == nil {
			return ContentPayload{Data: map[string]any{}}, nil
		}
		if env.Content.Data == nil {
			env.Content.Data = map[string]any{}
		}
		return *env.Content, nil
	case PayloadEntityReference:
		if env.EntityReference == nil {
			return EntityReferencePayload{}, nil
		}
		return *env.EntityReference, nil
	case PayloadBlockReference:
		if env.BlockReference == nil {
			return BlockReferencePayload{}, nil
		}
		return *env.BlockReference, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
}

// ClonePayload deep-copies a payload
func ClonePayload(p Payload) Payload {
	switch v := p.(type) {
	case ContentPayload:
		v.Data = CloneMap(v.Data)
		v.Meta.Issues = append([]errs.Issue(nil), v.Meta.Issues...)
		return v
	case EntityReferencePayload:
		v.Meta = v.Meta.Clone()
		return v
	case BlockReferencePayload:
		if v.Meta.Item != nil {
			item := *v.Meta.Item
			v.Meta.Item = &item
		}
		return v
	}
	return p
}

// Clone deep-copies the metadata
func (m EntityReferenceMetadata) Clone() EntityReferenceMetadata {
	m.Items = append([]ReferenceItem(nil), m.Items...)
	if m.Projection != nil {
		proj := Projection{Fields: append([]string(nil), m.Projection.Fields...)}
		m.Projection = &proj
	}
	return m
}

// CloneMap deep-copies a JSON-like map
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies a JSON-like value
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
