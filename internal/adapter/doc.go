// Package adapter holds the plumbing shared by hardware adapters.
//
// Base carries an adapter's lifecycle state and its view of the
// Pending-Update Registry. Every reference it hands to the registry is
// namespaced with the adapter ID, so adapters share one registry without
// colliding:
//
//	Base("zwave").Acquire(ctx, "node-7", ...)  ──▶  pending entry "zwave/node-7"
//
// Lifecycle:
//
//	Init ──▶ Ready ◀──▶ Failed
//	  │        │
//	  │        └──▶ Sleeping
//	  └──▶ Disabled
//
// Adapters stay in Init while they declare devices so restored values are
// not published, then move to Ready.
package adapter
