package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// jsonColumn stores pre-encoded JSON in a jsonb column
type jsonColumn []byte

// Value implements the driver.Valuer interface for database storage
func (j jsonColumn) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface for database retrieval
func (j *jsonColumn) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = jsonColumn(v)
	default:
		return fmt.Errorf("unsupported jsonb value %T", value)
	}
	return nil
}

type blockModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	OrganisationID string `gorm:"size:64;index;not null"`
	Name           string
	TypeID         string `gorm:"size:64;index;not null"`
	TypeKey        string `gorm:"size:64;not null"`
	TypeVersion    int
	Payload        jsonColumn `gorm:"type:jsonb"`
	Archived       bool       `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (blockModel) TableName() string { return "blocks" }

func blockToModel(b *types.Block) (*blockModel, error) {
	payload, err := types.MarshalPayload(b.Payload)
	if err != nil {
		return nil, err
	}
	return &blockModel{
		ID:             b.ID,
		OrganisationID: b.OrganisationID,
		Name:           b.Name,
		TypeID:         b.TypeID,
		TypeKey:        b.TypeKey,
		TypeVersion:    b.TypeVersion,
		Payload:        payload,
		Archived:       b.Archived,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}, nil
}

func (m *blockModel) toBlock() (*types.Block, error) {
	b := &types.Block{
		ID:             m.ID,
		OrganisationID: m.OrganisationID,
		Name:           m.Name,
		TypeID:         m.TypeID,
		TypeKey:        m.TypeKey,
		TypeVersion:    m.TypeVersion,
		Archived:       m.Archived,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if len(m.Payload) > 0 {
		payload, err := types.UnmarshalPayload(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", m.ID, err)
		}
		b.Payload = payload
	}
	return b, nil
}

// blockTypeModel keeps the lookup columns flat and the full definition as jsonb
type blockTypeModel struct {
	ID             string     `gorm:"primaryKey;size:64"`
	Key            string     `gorm:"column:type_key;size:64;not null;uniqueIndex:idx_block_type_version"`
	OrganisationID string     `gorm:"size:64;not null;default:'';uniqueIndex:idx_block_type_version"`
	Version        int        `gorm:"not null;uniqueIndex:idx_block_type_version"`
	System         bool       `gorm:"not null;default:false"`
	Archived       bool       `gorm:"not null;default:false"`
	Definition     jsonColumn `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time
}

func (blockTypeModel) TableName() string { return "block_types" }

func blockTypeToModel(t *types.BlockType) (*blockTypeModel, error) {
	def, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block type %s: %w", t.ID, err)
	}
	return &blockTypeModel{
		ID:             t.ID,
		Key:            t.Key,
		OrganisationID: t.OrganisationID,
		Version:        t.Version,
		System:         t.System,
		Archived:       t.Archived,
		Definition:     def,
		CreatedAt:      t.CreatedAt,
	}, nil
}

func (m *blockTypeModel) toBlockType() (*types.BlockType, error) {
	var t types.BlockType
	if err := json.Unmarshal(m.Definition, &t); err != nil {
		return nil, fmt.Errorf("failed to decode block type %s: %w", m.ID, err)
	}
	t.Archived = m.Archived
	return &t, nil
}

// edgeModel is keyed by child id: a child has at most one parent
type edgeModel struct {
	ChildID    string `gorm:"primaryKey;size:64"`
	ParentID   string `gorm:"size:64;not null;index:idx_edge_parent_slot,priority:1"`
	Slot       string `gorm:"size:128;not null;index:idx_edge_parent_slot,priority:2"`
	Path       string `gorm:"size:160;not null"`
	OrderIndex int    `gorm:"not null"`
	CreatedAt  time.Time
}

func (edgeModel) TableName() string { return "block_edges" }

func edgeToModel(e *types.Edge) *edgeModel {
	return &edgeModel{
		ChildID:    e.ChildID,
		ParentID:   e.ParentID,
		Slot:       e.Slot,
		Path:       e.Path,
		OrderIndex: e.OrderIndex,
		CreatedAt:  e.CreatedAt,
	}
}

func (m *edgeModel) toEdge() *types.Edge {
	return &types.Edge{
		ParentID:   m.ParentID,
		ChildID:    m.ChildID,
		Slot:       m.Slot,
		Path:       m.Path,
		OrderIndex: m.OrderIndex,
		CreatedAt:  m.CreatedAt,
	}
}

type referenceModel struct {
	ID         string `gorm:"primaryKey;type:uuid"`
	BlockID    string `gorm:"size:64;not null;index:idx_ref_block_slot,priority:1"`
	Slot       string `gorm:"size:128;not null;index:idx_ref_block_slot,priority:2"`
	EntityType string `gorm:"size:64;not null;index:idx_ref_entity,priority:2"`
	EntityID   string `gorm:"size:128;not null;index:idx_ref_entity,priority:1"`
	Path       string `gorm:"size:160;not null"`
	OrderIndex int    `gorm:"not null"`
	Ownership  string `gorm:"size:16;not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (referenceModel) TableName() string { return "block_references" }

func referenceToModel(r *types.StoredReference) *referenceModel {
	return &referenceModel{
		ID:         r.ID,
		BlockID:    r.BlockID,
		Slot:       r.Slot,
		EntityType: string(r.EntityType),
		EntityID:   r.EntityID,
		Path:       r.Path,
		OrderIndex: r.OrderIndex,
		Ownership:  string(r.Ownership),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (m *referenceModel) toReference() *types.StoredReference {
	return &types.StoredReference{
		ID:         m.ID,
		BlockID:    m.BlockID,
		EntityType: types.EntityType(m.EntityType),
		EntityID:   m.EntityID,
		Slot:       m.Slot,
		Path:       m.Path,
		OrderIndex: m.OrderIndex,
		Ownership:  types.Ownership(m.Ownership),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
