// Package paths maps dotted / slash / bracketed paths onto slot keys and values.
//
// Paths appear in three places:
//   - Edge and reference rows: "clients[2]" is the third entry of slot "clients"
//   - DataPath bindings: "$.data/customer/name" addresses the block payload
//   - Component props: "header.title" assigns a nested prop
//
// Accepted roots are "$.data/" (or "$.data.") for payload-relative paths and "$." / "$"
// for plain rooted paths. Segments may be separated by '.' or '/', and list indexes may be
// written either as a segment ("items.2") or in brackets ("items[2]").
//
// Every function here is pure and safe for concurrent use.
//
// Example:
//
//	paths.SlotKey("$.clients[3]")               // "clients"
//	paths.Item("clients", 3)                    // "clients[3]"
//	paths.Lookup(payload, "$.data/customer/name")
package paths
