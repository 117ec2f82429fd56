// Package integrations implements the third-party integration connector:
// OAuth credential lifecycle for external providers (scheduling,
// e-signature, messaging, calendar/email) and inbound webhook ingestion
// with per-provider signature verification and idempotent event
// processing.
//
// # Architecture
//
// The package is built from small service objects with injected
// dependencies:
//
//   - Registry: immutable catalog of known providers, loaded at startup
//     from an embedded manifest plus per-provider env credentials.
//   - Connector: OAuth authorization-code flow — authorize URL
//     construction with a signed one-time state, code-for-token
//     exchange, serialized token refresh.
//   - Store: persistence boundary for integration records; the pgx
//     implementation encrypts tokens at rest.
//   - Verifier: per-provider webhook signature verification strategies.
//   - Processor: deduplicated, idempotent webhook event dispatch backed
//     by a database uniqueness constraint.
//   - Handler: chi HTTP transport tying the pieces together.
//
// Every inbound webhook and OAuth callback is handled as a stateless
// request; the only shared in-process state is the read-only Registry.
package integrations
