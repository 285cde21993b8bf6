// Package catalog parses the memories_history.json file from a Snapchat
// data export into typed items.
//
// Each item carries a stable identity used as the resume key, the capture
// timestamp, the media kind, an optional location, and the signed download
// links. Identity derivation prefers the mid query parameter of the
// download link because the remaining query parameters are time-limited
// signatures that rotate between exports.
package catalog
