// Package stage implements the four pipeline stages as event-bus handlers.
// Each handler claims its item with a conditional status update before doing
// any work, so duplicate or stale trigger events are dropped instead of
// producing duplicate side effects.
package stage
