// Package manager implements the Manager, the narrow "execute named tool with
// parameters" interface that collaborators use.
//
// The Manager starts the supervised tool server lazily, validates params
// against the tool schemas before anything is sent, and restarts the server
// exactly once when a call finds the process gone. Timeouts are returned to
// the caller at their deadline; a run of consecutive timeouts makes the next
// call restart the server first.
package manager
