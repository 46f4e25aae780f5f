package types

import (
	"encoding/json"
	"fmt"
)

// Presentation of a referenced slot inside a rendered component
type Presentation string

const (
	PresentationSummary Presentation = "SUMMARY"
	PresentationInline  Presentation = "INLINE"
)

// Projection limits the entity fields copied into a rendered prop
type Projection struct {
	Fields []string `json:"fields"`
}

// Apply returns the projected copy of e; a nil projection keeps every field
func (p *Projection) Apply(e Entity) Entity {
	if p == nil || len(p.Fields) == 0 || e == nil {
		return e
	}
	out := make(Entity, len(p.Fields))
	for _, f := range p.Fields {
		if v, ok := e[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Rect is a grid placement for one breakpoint
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// LayoutItem places a component per breakpoint
type LayoutItem struct {
	ID          string          `json:"id"`
	Breakpoints map[string]Rect `json:"breakpoints"`
}

// LayoutGrid is a responsive grid of component placements
type LayoutGrid struct {
	Cols      map[string]int `json:"cols,omitempty"`
	RowHeight int            `json:"row_height,omitempty"`
	Margin    [2]int         `json:"margin"`
	Items     []LayoutItem   `json:"items"`
}

// BlockRenderStructure is the declarative display of a block type
type BlockRenderStructure struct {
	Version    int                            `json:"version"`
	Layout     LayoutGrid                     `json:"layout"`
	Components map[string]*BlockComponentNode `json:"components"`
}

// BlockComponentNode is one component in the render structure. Slots name
// child component ids; SlotLayout optionally lays them out on a nested grid.
type BlockComponentNode struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Props       map[string]any         `json:"props,omitempty"`
	Bindings    []Binding              `json:"bindings,omitempty"`
	Slots       map[string][]string    `json:"slots,omitempty"`
	SlotLayout  map[string]*LayoutGrid `json:"slot_layout,omitempty"`
	FetchPolicy FetchPolicy            `json:"fetch_policy,omitempty"`
	Visible     string                 `json:"visible,omitempty"`
}

// SourceKind discriminates BindingSource variants
type SourceKind string

const (
	SourceDataPath SourceKind = "DataPath"
	SourceRefSlot  SourceKind = "RefSlot"
	SourceComputed SourceKind = "Computed"
)

// BindingSource is the closed union of binding sources.
// Implemented only by DataPathSource, RefSlotSource and ComputedSource.
type BindingSource interface {
	SourceKind() SourceKind
	sealedSource()
}

// DataPathSource reads a value from the block payload
type DataPathSource struct {
	Path string `json:"path"`
}

// RefSlotSource reads the resolved references of a slot
type RefSlotSource struct {
	Slot         string       `json:"slot"`
	Presentation Presentation `json:"presentation,omitempty"`
	Projection   *Projection  `json:"projection,omitempty"`
	ExpandDepth  int          `json:"expand_depth,omitempty"`
}

// ComputedSource is an expression over other bindings. Not evaluated.
type ComputedSource struct {
	Expression string `json:"expression"`
}

func (DataPathSource) SourceKind() SourceKind { return SourceDataPath }
func (RefSlotSource) SourceKind() SourceKind  { return SourceRefSlot }
func (ComputedSource) SourceKind() SourceKind { return SourceComputed }

func (DataPathSource) sealedSource() {}
func (RefSlotSource) sealedSource()  {}
func (ComputedSource) sealedSource() {}

// Binding maps a component prop to a source. Prop may be a nested path.
type Binding struct {
	Prop   string        `json:"prop"`
	Source BindingSource `json:"-"`
}

type sourceEnvelope struct {
	Kind         SourceKind   `json:"kind"`
	Path         string       `json:"path,omitempty"`
	Slot         string       `json:"slot,omitempty"`
	Presentation Presentation `json:"presentation,omitempty"`
	Projection   *Projection  `json:"projection,omitempty"`
	ExpandDepth  int          `json:"expand_depth,omitempty"`
	Expression   string       `json:"expression,omitempty"`
}

type bindingJSON struct {
	Prop   string          `json:"prop"`
	Source *sourceEnvelope `json:"source"`
}

// MarshalJSON encodes the binding with a kind-tagged source
func (b Binding) MarshalJSON() ([]byte, error) {
	out := bindingJSON{Prop: b.Prop}
	switch s := b.Source.(type) {
	case nil:
	case DataPathSource:
		out.Source = &sourceEnvelope{Kind: SourceDataPath, Path: s.Path}
	case RefSlotSource:
		out.Source = &sourceEnvelope{
			Kind:         SourceRefSlot,
			Slot:         s.Slot,
			Presentation: s.Presentation,
			Projection:   s.Projection,
			ExpandDepth:  s.ExpandDepth,
		}
	case ComputedSource:
		out.Source = &sourceEnvelope{Kind: SourceComputed, Expression: s.Expression}
	default:
		return nil, fmt.Errorf("unknown binding source %T", b.Source)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a kind-tagged source
func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw bindingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Prop = raw.Prop
	b.Source = nil
	if raw.Source == nil {
		return nil
	}

	switch raw.Source.Kind {
	case SourceDataPath:
		b.Source = DataPathSource{Path: raw.Source.Path}
	case SourceRefSlot:
		b.Source = RefSlotSource{
			Slot:         raw.Source.Slot,
			Presentation: raw.Source.Presentation,
			Projection:   raw.Source.Projection,
			ExpandDepth:  raw.Source.ExpandDepth,
		}
	case SourceComputed:
		b.Source = ComputedSource{Expression: raw.Source.Expression}
	default:
		return fmt.Errorf("unknown binding source kind %q", raw.Source.Kind)
	}
	return nil
}

// LintLevel is the severity of a lint issue
type LintLevel string

const (
	LintError   LintLevel = "ERROR"
	LintWarning LintLevel = "WARNING"
)

// LintIssue is an advisory finding on a render structure
type LintIssue struct {
	Level   LintLevel `json:"level"`
	Path    string    `json:"path"`
	Message string    `json:"message"`
}

// LintReport groups the issues for one render structure
type LintReport struct {
	Valid  bool        `json:"valid"`
	Issues []LintIssue `json:"issues"`
}

// RenderNode is an evaluated component. Errors collects per-node failures
// that did not abort the render.
type RenderNode struct {
	ID          string                   `json:"id"`
	Type        string                   `json:"type"`
	Props       map[string]any           `json:"props"`
	Layout      map[string]Rect          `json:"layout,omitempty"`
	Slots       map[string][]*RenderNode `json:"slots,omitempty"`
	Visible     bool                     `json:"visible"`
	Placeholder bool                     `json:"placeholder,omitempty"`
	Errors      []string                 `json:"errors,omitempty"`
}

// RenderTree is the evaluated render structure of one block
type RenderTree struct {
	BlockID   string         `json:"block_id"`
	Version   int            `json:"version"`
	Cols      map[string]int `json:"cols,omitempty"`
	RowHeight int            `json:"row_height,omitempty"`
	Nodes     []*RenderNode  `json:"nodes"`
}
