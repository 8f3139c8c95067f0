// Package fsserver is a Go implementation of the filesystem tool server. It
// speaks the same line-delimited JSON protocol as the bundled Node.js script
// and is used by cmd/toolhost-fs and by tests that need a real child process.
package fsserver
