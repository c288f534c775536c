// Package proc owns one traced child process: it starts the child under
// ptrace, translates wait statuses into StopEvents, resumes it while
// stepping transparently over software breakpoints, and exposes the
// register and memory view the unwinder needs.
//
// Only linux/amd64 is supported. A Process must be driven by one goroutine
// at a time; internally every ptrace request is issued from a single OS
// thread because the kernel binds a tracee to the thread that traces it.
package proc
