// Package paymux is a payment provider abstraction and webhook
// reconciliation service. It fronts multiple payment providers with one
// API, deduplicates their webhook deliveries, and reconciles payments into
// local invoice and subscription state.
//
// # Overview
//
// Every provider integration answers the same questions differently: how a
// checkout is opened, how a webhook is authenticated, and how many times the
// same event will be delivered. Paymux normalizes all of it behind a single
// adapter contract and treats at-least-once webhook delivery as the default,
// not the exception.
//
// # Architecture
//
//	┌─────────────────┐    ┌─────────────────┐    ┌─────────────────┐
//	│                 │    │                 │    │                 │
//	│   Your Apps     │◄──►│     Paymux      │◄──►│    Payment      │
//	│                 │    │                 │    │    Providers    │
//	│                 │    │                 │    │                 │
//	└─────────────────┘    └─────────────────┘    └─────────────────┘
//
// Outbound calls go through provider.Service, which retries transient
// failures and guards captures and refunds with idempotency claims. Inbound
// webhooks go through webhook.Ingestor: verify, parse, claim, publish. The
// billing reconciler consumes the published events and moves invoices and
// subscriptions through compare-and-set state transitions, so a redelivered
// or racing webhook can never grant a subscription period twice.
//
// # Packages
//
//   - provider: adapter contract, registry, credential resolution, outbound
//     service (stripe, paypal and sandbox adapters in subpackages)
//   - webhook: delivery ingestion pipeline and audit trail
//   - event: synchronous in-process domain event bus
//   - billing: invoices, subscriptions, plans, reconciliation and expiry
//   - plugin: provider lifecycle host (configure, activate, uninstall)
//   - idempotency: claim-once stores on Redis or process memory
//   - handler, router: the HTTP API
package paymux
