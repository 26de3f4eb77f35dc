// Package chat holds the client-side message model: the reconciling Timeline
// that merges history fetches with streamed messages, the change events
// emitted for every update, and the client-side validation gates run before
// any network call.
package chat
