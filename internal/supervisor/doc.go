// Package supervisor owns the lifecycle of one tool server process.
//
// A Supervisor moves through Stopped, Starting, Ready and Running. Start
// launches the child, waits for the readiness line (or polls the probe tool
// when the line is disabled) and confirms with a probe round trip. An
// unexpected exit moves a running supervisor to Failed and wakes every
// pending call. Stop closes stdin, signals the process, waits StopGrace and
// then kills it, so no child or reader goroutine outlives Stop.
//
// An optional lock file, held with github.com/gofrs/flock, keeps two
// supervisors from driving the same workspace at once.
package supervisor
