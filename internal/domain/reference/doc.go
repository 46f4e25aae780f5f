// Package reference stores and resolves links from blocks to external entities.
//
// A block's entity_reference metadata is the source of truth for which
// entities it links and in what order. Stored reference rows mirror that list
// so links can be queried from either end; every write here keeps the two in
// step.
//
// Components:
//   - Resolver: fetches entities of one type in a single batched call
//   - Resolvers: concurrent registry of resolvers keyed by entity type
//   - BlockResolver: resolves BLOCK references from the block store
//   - HTTPResolver: resolves a remote entity type over REST with retries,
//     rate limiting and a circuit breaker
//   - Service: find, resolve, upsert and remove references
//
// Resolution never fails on absent data. A reference that cannot be resolved
// carries a warning (MISSING, UNSUPPORTED or REQUIRES_LOADING) instead.
//
// Example Usage:
//
//	resolvers := reference.NewResolvers(reference.NewBlockResolver(st))
//	svc := reference.New(st, resolvers, reference.WithLogger(log))
//	refs, err := svc.FindBlockReferences(ctx, blockID, &meta)
package reference
