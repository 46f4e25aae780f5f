// Package children manages ownership edges between blocks.
//
// A block owns its children through edges grouped into named slots. Every
// child has at most one parent, ownership never forms a cycle, and the
// order indexes inside a slot are always exactly 0..n-1.
//
// Writes run in a single store transaction and take the slot lock of every
// slot they touch, in sorted order, before reading it. Operations that can
// create a new ancestor relation (add, bulk add, reparenting moves) also
// take the organisation's ownership lock so two concurrent reparents cannot
// close a cycle between them.
//
// Each slot listing carries a version token derived from its ordered child
// ids. ReplaceSlot and MoveChildToSlot accept that token and fail with a
// conflict when the slot changed since it was read.
//
// Index values from callers are hints: they are clamped to the slot and the
// slot is renumbered server-side after every change.
package children
