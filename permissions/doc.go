// Package permissions resolves which commands a guild member may run.
//
// A member's level is derived from the persisted [Config]: owners always
// resolve to [Owner], then per-user overrides apply, then the highest level
// granted by any role the member holds. Commands carry a default level
// which per-command overrides may replace.
//
// The config is never cached. [Service] loads a fresh snapshot from its
// [Store] for every check and applies every mutation through
// [Store.Update], so concurrent administrators cannot overwrite each
// other's changes. When the store is unavailable, checks fail closed.
package permissions
