// Package kephascord provides a client library for Discord-style bot APIs.
//
// The library talks to the platform over two channels: a REST API guarded by
// per-route and global rate limits, and a persistent gateway websocket that
// pushes ordered, typed events. It keeps REST calls within the server's
// quotas and turns the gateway into a continuous, correctly sequenced event
// stream dispatched to registered handlers.
//
// # Architecture
//
// REST calls are described by a Request carrying its Route (templated path plus
// major parameter) and submitted to a Requester, which returns a Future. The
// scheduler behind it keeps one FIFO per route, issues at most one request per
// route at a time and drains routes round-robin. Buckets are learned from
// X-RateLimit-* headers, so routes the server maps to one bucket share state.
//
// The gateway session identifies, heartbeats, and resumes after recoverable
// disconnects. Dispatches are forwarded on an unbuffered channel in sequence
// order, decoded into typed events and fanned out to handlers. Application
// command interactions are routed by command path to exactly one handler.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/kephascord/bot"
//	)
//
//	cfg, err := bot.LoadConfig("bot.yaml") // or KEPHASCORD_TOKEN=... in the environment
//	b, err := bot.New(cfg, nil)
//
//	// Typed event handlers run in registration order
//	bot.On(b, func(ctx context.Context, m *events.MessageCreate) error {
//	    if m.Content != "!ping" {
//	        return nil
//	    }
//	    _, err := b.REST().CreateMessage(ctx, m.ChannelID, &rest.CreateMessageParams{Content: "pong"})
//	    return err
//	})
//
//	// Application commands, options bound by name
//	type banArgs struct {
//	    User   string `option:"user,required"`
//	    Reason string `option:"reason"`
//	}
//	bot.CommandFunc(b, "admin ban", func(ctx context.Context, cc *bot.CommandContext, args banArgs) error {
//	    return cc.Respond(ctx, "banned "+args.User)
//	})
//
//	err = b.Run(ctx) // blocks until ctx is cancelled or the session fails fatally
//
// # Rate Limiting
//
// A 429 marks the route's bucket (or, when global, every route) exhausted
// until retry_after elapses and requeues the request at the head of its
// route. Timeouts and 502/503/504 are retried after a backoff. Every retry
// counts against MaxAttempts; network faults and other 4xx responses fail the
// future immediately with a classified error.
//
// A global token bucket (50 requests/second by default) paces all routes
// together on top of server-signalled global blocks.
//
// # Errors
//
// Errors carry an ErrorClass (transient, terminal request, session fatal,
// recoverable session, decode, handler). Use ClassOf, IsTransient and
// IsSessionFatal rather than string matching. REST failures that are not
// retried unwrap to *HTTPError.
//
// # Important
//
//   - Session fatal close codes (4004, 4010-4014) end Run with an error; there is no retry
//   - Events queue behind a slow consumer without delaying heartbeats; use the Async dispatch option to keep latency down
//   - Cancelling a Future's Wait context does not cancel the request itself
package kephascord
