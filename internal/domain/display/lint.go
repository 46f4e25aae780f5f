package display

import (
	"fmt"
	"sort"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/paths"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// ExpressionChecker reports whether a visible expression compiles
type ExpressionChecker func(expr string) error

// Linter validates render structures
type Linter struct {
	checkExpr ExpressionChecker
	issues    []types.LintIssue
}

// Option configures a Linter
type Option func(*Linter)

// WithExpressionChecker enables syntax checks of visible expressions
func WithExpressionChecker(check ExpressionChecker) Option {
	return func(l *Linter) {
		l.checkExpr = check
	}
}

// NewLinter creates a linter
func NewLinter(opts ...Option) *Linter {
	l := &Linter{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lint checks a render structure with no expression checks
func Lint(render *types.BlockRenderStructure) []types.LintIssue {
	return NewLinter().Lint(render)
}

// Report wraps Lint output with a validity flag
func (l *Linter) Report(render *types.BlockRenderStructure) types.LintReport {
	issues := l.Lint(render)
	return types.LintReport{Valid: !HasErrors(issues), Issues: issues}
}

// HasErrors reports whether any issue is ERROR level
func HasErrors(issues []types.LintIssue) bool {
	for _, issue := range issues {
		if issue.Level == types.LintError {
			return true
		}
	}
	return false
}

// Lint returns every issue found in render, in a stable order
func (l *Linter) Lint(render *types.BlockRenderStructure) []types.LintIssue {
	l.issues = []types.LintIssue{}
	if render == nil {
		return l.issues
	}

	l.lintGrid("layout", &render.Layout, render.Components)

	for _, key := range sortedKeys(render.Components) {
		l.lintComponent(key, render.Components[key], render.Components)
	}

	l.lintSlotCycles(render.Components)

	return l.issues
}

func (l *Linter) errorf(path, format string, args ...any) {
	l.issues = append(l.issues, types.LintIssue{Level: types.LintError, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (l *Linter) warnf(path, format string, args ...any) {
	l.issues = append(l.issues, types.LintIssue{Level: types.LintWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (l *Linter) lintGrid(base string, grid *types.LayoutGrid, components map[string]*types.BlockComponentNode) {
	for _, bp := range sortedKeys(grid.Cols) {
		if grid.Cols[bp] <= 0 {
			l.errorf(fmt.Sprintf("%s.cols.%s", base, bp), "column count must be positive, got %d", grid.Cols[bp])
		}
	}
	if grid.RowHeight < 0 {
		l.errorf(base+".row_height", "row height must not be negative")
	}

	for i, item := range grid.Items {
		itemPath := fmt.Sprintf("%s.items[%d]", base, i)

		if _, ok := components[item.ID]; !ok {
			l.errorf(itemPath+".id", "layout item %q has no matching component", item.ID)
		}

		if len(item.Breakpoints) == 0 {
			l.warnf(itemPath+".breakpoints", "layout item %q has no breakpoints and will not be placed", item.ID)
		}

		for _, bp := range sortedKeys(item.Breakpoints) {
			rect := item.Breakpoints[bp]
			rectPath := fmt.Sprintf("%s.breakpoints.%s", itemPath, bp)
			if rect.W <= 0 || rect.H <= 0 {
				l.errorf(rectPath, "size must be positive, got %dx%d", rect.W, rect.H)
				continue
			}
			if rect.X < 0 || rect.Y < 0 {
				l.errorf(rectPath, "position must not be negative, got (%d,%d)", rect.X, rect.Y)
			}
			if cols, ok := grid.Cols[bp]; ok && cols > 0 && rect.X+rect.W > cols {
				l.warnf(rectPath, "item overflows %d columns", cols)
			}
		}
	}
}

func (l *Linter) lintComponent(key string, node *types.BlockComponentNode, components map[string]*types.BlockComponentNode) {
	base := "components." + key

	if node == nil {
		l.errorf(base, "component is empty")
		return
	}
	if node.ID != "" && node.ID != key {
		l.warnf(base+".id", "component id %q differs from its key", node.ID)
	}
	if node.Type == "" {
		l.errorf(base+".type", "component type is required")
	}

	for i, binding := range node.Bindings {
		l.lintBinding(fmt.Sprintf("%s.bindings[%d]", base, i), binding)
	}

	for _, slot := range sortedKeys(node.Slots) {
		for j, childID := range node.Slots[slot] {
			if _, ok := components[childID]; !ok {
				l.errorf(fmt.Sprintf("%s.slots.%s[%d]", base, slot, j), "slot child %q has no matching component", childID)
			}
		}
	}

	for _, slot := range sortedKeys(node.SlotLayout) {
		grid := node.SlotLayout[slot]
		if grid == nil {
			continue
		}
		gridPath := fmt.Sprintf("%s.slot_layout.%s", base, slot)
		if _, ok := node.Slots[slot]; !ok {
			l.warnf(gridPath, "layout declared for unknown slot %q", slot)
		}
		l.lintGrid(gridPath, grid, components)
	}

	if node.FetchPolicy != "" && node.FetchPolicy != types.FetchLazy && node.FetchPolicy != types.FetchEager {
		l.errorf(base+".fetch_policy", "unknown fetch policy %q", node.FetchPolicy)
	}

	if node.Visible != "" && l.checkExpr != nil {
		if err := l.checkExpr(node.Visible); err != nil {
			l.errorf(base+".visible", "invalid expression: %v", err)
		}
	}
}

func (l *Linter) lintBinding(base string, b types.Binding) {
	if b.Prop == "" {
		l.errorf(base+".prop", "binding prop is required")
	}

	switch src := b.Source.(type) {
	case nil:
		l.errorf(base+".source", "binding source is required")
	case types.DataPathSource:
		if !paths.IsDataPath(src.Path) {
			l.warnf(base+".source.path", "data path %q should use the %s... convention", src.Path, paths.DataPrefix)
		}
	case types.RefSlotSource:
		if src.Slot == "" {
			l.errorf(base+".source.slot", "reference slot is required")
		}
		switch src.Presentation {
		case "", types.PresentationSummary:
		case types.PresentationInline:
			if paths.IsNested(b.Prop) {
				l.warnf(base+".prop", "INLINE reference slot should bind a top-level prop, got %q", b.Prop)
			}
		default:
			l.errorf(base+".source.presentation", "unknown presentation %q", src.Presentation)
		}
		if src.ExpandDepth < 0 {
			l.errorf(base+".source.expand_depth", "expand depth must not be negative")
		}
	case types.ComputedSource:
		l.warnf(base+".source", "computed bindings are not evaluated and render as errors")
	}
}

// lintSlotCycles reports slot lists that lead back to an enclosing component
func (l *Linter) lintSlotCycles(components map[string]*types.BlockComponentNode) {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(components))

	var visit func(id string)
	visit = func(id string) {
		state[id] = active
		if node := components[id]; node != nil {
			for _, slot := range sortedKeys(node.Slots) {
				for j, child := range node.Slots[slot] {
					if _, ok := components[child]; !ok {
						continue
					}
					switch state[child] {
					case active:
						l.errorf(fmt.Sprintf("components.%s.slots.%s[%d]", id, slot, j), "slot nesting cycles back to %q", child)
					case unvisited:
						visit(child)
					}
				}
			}
		}
		state[id] = done
	}

	for _, id := range sortedKeys(components) {
		if state[id] == unvisited {
			visit(id)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
