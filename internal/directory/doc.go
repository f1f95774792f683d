// Package directory is parley's user directory: registration, password
// login, and resolution of user ids to display attributes.
//
// Lookups go through an optional Cache (RedisCache in production) before the
// store. The cache only ever holds public fields; a cache failure degrades to
// a store read and is logged, never returned.
package directory
