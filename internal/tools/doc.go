// Package tools defines the filesystem tool vocabulary and validates tool
// params against JSON schemas before they are sent.
package tools
