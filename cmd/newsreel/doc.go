// Command newsreel is the operator CLI. It talks to a running newsreeld over
// its HTTP API to inspect the queue, requeue failed items, and manage the
// dead letter queue.
package main
