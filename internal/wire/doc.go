// Package wire encodes and classifies the line-delimited JSON messages
// exchanged with the tool server.
package wire
