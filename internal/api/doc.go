// Package api exposes the download pipeline over a local HTTP surface:
// enqueue and lifecycle operations, derived library views, offline playback
// bundles, and a server-sent event stream mirroring the reactive state store.
package api
