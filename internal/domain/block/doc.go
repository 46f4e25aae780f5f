// Package block implements block CRUD, tree assembly and rendering.
//
// Content payloads are written through a validated merge: the patch is merged
// into the current data, html fields are sanitised and the result is checked
// against the schema of the block's own type version. STRICT types reject a
// failing write; SOFT types store it and record the issues in the payload's
// validation meta.
//
// Deleting a block cascades: its children become top-level blocks, its parent
// slot is renumbered, its stored references are removed, and references
// other blocks hold to it are swept.
package block
