// Package http1 is the HTTP/1.1 connection engine.
//
// A Server accepts TCP connections and runs one reader goroutine per
// connection. The reader parses request heads with the wire codec and
// dispatches each request to the Handler on its own goroutine, so a client
// may pipeline several requests. Responses are still written strictly in
// request order: every exchange waits for the previous one to finish
// writing before it commits its own status line.
//
// # Connection states
//
//	AwaitingRequest -> ReadingHeaders -> (ReadingBody) -> Dispatched
//	                -> WritingResponse -> AwaitingRequest | Closing
//
// The idle timeout applies only in AwaitingRequest and only when no
// response is outstanding. Header, body and write phases have their own
// deadlines.
//
// # Error handling
//
// Malformed heads, framing conflicts and oversize messages are answered
// with 400, 501, 505, 413 or 431 followed by Connection: close. A handler
// error before the response is committed becomes an error page; after the
// commit the connection is closed because the client can no longer tell
// where the message ends.
//
// # Usage
//
//	srv := http1.NewServer(handler,
//	    http1.WithAddr(":8000"),
//	    http1.WithLogger(logger),
//	    http1.WithMetrics(http1.NewMetrics(reg)),
//	)
//	err := srv.Start(ctx)
package http1
