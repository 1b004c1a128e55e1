// Package app assembles the storefront: it builds the catalog, promotion,
// cart, checkout, tracking, user and image services over the chosen
// backends, mounts them on the HTTP router and runs the background parts
// (realtime hub, change relay, scheduled jobs) under one lifecycle.
//
// Backends are picked by the caller and passed in Deps; cmd/storefront does
// that from configuration. Tests pass nothing and get the in-memory store,
// cache and local auth.
package app
