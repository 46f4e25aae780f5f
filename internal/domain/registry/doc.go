// Package registry manages versioned block types.
//
// A published block type is immutable. Changing one publishes a new row with
// the same key and Version+1; blocks created earlier keep pointing at the
// version they were created with. Organisations may fork any visible type into
// their own scope, and an organisation type shadows a system type of the same
// key when resolving by key.
//
// Components:
//   - Registry: publish, update, archive, lookup and fork with an in-memory
//     cache of immutable versions
//   - Seeder: loads system block types from .yaml, .yml, .toml and .json
//     files on startup
//
// Every publish and update runs the display linter; any ERROR issue rejects
// the write with a validation error listing the issues.
//
// Example Usage:
//
//	reg := registry.New(st, registry.WithLogger(log), registry.WithMetrics(m))
//	bt, err := reg.Publish(ctx, orgID, draft)
//	latest, err := reg.Latest(ctx, orgID, "invoice.line")
//	fork, err := reg.Fork(ctx, orgID, latest.ID, "")
package registry
