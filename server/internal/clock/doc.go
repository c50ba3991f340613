// Package clock abstracts time so escalation timers, cooldowns and retry
// sleeps can be driven deterministically in tests.
//
// Real() wraps the time package. NewFake(start) returns a clock whose time
// only moves when Advance is called; timers whose deadline is reached fire
// synchronously inside Advance, in deadline order.
package clock
