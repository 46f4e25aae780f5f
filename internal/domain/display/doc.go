// Package display statically checks block render structures.
//
// The linter never mutates its input. It runs when a block type is
// published or updated, not per render. Issues carry a path into the
// structure using the same JSON field names the structure is stored with,
// e.g. "layout.items[0].id" or "components.header.bindings[1].source.path".
//
// ERROR issues block publication; WARNING issues are advisory.
package display
