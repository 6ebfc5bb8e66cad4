// Package backend decides where a task runs and runs it there. It defines the
// closed set of backend identifiers, the ordered selection rules, one
// ExecutionPath per backend with its correctness compensation, the boundary
// to the external backend services, and the Dispatcher that applies the
// per-task failure policy.
package backend
