// Package push builds platform push payloads and hands them to a
// transport.
//
// Delivery, retries and platform formatting belong to the transport. This
// package only guarantees that every message carries the same business
// vocabulary (type plus stay, order and consumption ids) that the
// notification router uses for deduplication and deep links.
//
// Transports:
//   - FCMTransport sends through Firebase Cloud Messaging.
//   - AMQPTransport publishes batches to a RabbitMQ fanout exchange for an
//     external sender.
//   - LogTransport only logs; Outbox keeps messages in memory.
package push
