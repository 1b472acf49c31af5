// Package notifications pushes operator-facing events to an ntfy topic.
// Categories are gated individually in configuration, and an unconfigured
// topic yields a noop service so callers never branch on notification setup.
package notifications
