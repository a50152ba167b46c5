// Package audit dispatches security events asynchronously.
//
// # Components
//
//   - [Sink]: event consumers (channel, JSON writer, zap logger, no-op).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full semantics.
//   - [Event]: the structured record.
//
// # What this package must NOT do
//
//   - Decide which events to emit. The Engine does that.
//   - Import authcore or any sibling internal package.
package audit
