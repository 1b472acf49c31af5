// Package bus implements the durable event log the pipeline stages communicate
// over. Events are appended to a SQLite table whose autoincrement identifier
// provides a total order; consumer groups track their position per topic in an
// offsets table, so delivery is at-least-once and in publish order.
//
// Each consumer retries failed deliveries with exponential backoff, then parks
// the event in a dead-letter table and advances past it. Parked events can be
// inspected and requeued through the operator surface.
package bus
