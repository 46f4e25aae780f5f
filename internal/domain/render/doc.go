// Package render evaluates a block type's render structure against a block tree.
//
// The result is a tree of components with their props filled from bindings:
// DataPath bindings read the block payload, RefSlot bindings read the
// resolved references of a slot. Components whose visible expression is
// false are returned with Visible unset and no evaluated props.
//
// Rendering never fails on missing data. A layout item without a component
// becomes a placeholder node; binding and expression failures are recorded on
// the node and the render continues.
package render
