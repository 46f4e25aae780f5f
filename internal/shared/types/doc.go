// Package types provides the shared data model of the block backend.
//
// Core Types:
//   - Block: typed content node whose Payload is one of three closed variants
//   - BlockType: versioned schema, nesting policy and display structure
//   - Edge: ownership link from a parent block to a child within a slot
//   - StoredReference / Reference: persisted link row and its resolved view
//   - BlockTree / BlockNode: read-side projection of a block with its sub-trees
//
// Render Types:
//   - BlockRenderStructure: layout grid plus component tree with bindings
//   - BindingSource: closed union of DataPath, RefSlot and Computed sources
//   - RenderTree / RenderNode: evaluated prop tree handed to the presentation layer
//   - LintIssue: advisory finding produced by the display linter
//
// Payload and BindingSource are sealed interfaces; every consumer switches over all
// variants and treats anything else as an error.
package types
