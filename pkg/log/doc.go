// Package log provides the structured logger shared by peer, collection,
// shard and consensus code. It wraps zerolog with a global instance and a
// handful of child-logger constructors for the fields we tag every line
// with: component, peer_id, collection, shard_id.
package log
