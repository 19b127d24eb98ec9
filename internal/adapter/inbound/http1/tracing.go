package http1

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pyxhttp/pyx/internal/domain/wire"
)

const tracerName = "github.com/pyxhttp/pyx/internal/adapter/inbound/http1"

func (c *conn) startSpan(head *wire.RequestHead, requestID string, seq int64) (context.Context, trace.Span) {
	return c.srv.tracer.Start(c.ctx, "HTTP "+head.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", head.Method),
			attribute.String("url.path", head.Path),
			attribute.String("network.protocol.version",
				strconv.Itoa(head.Version.Major)+"."+strconv.Itoa(head.Version.Minor)),
			attribute.String("client.address", c.remote),
			attribute.String("pyx.conn_id", c.id),
			attribute.String("pyx.request_id", requestID),
			attribute.Int64("pyx.conn_seq", seq),
		),
	)
}

func endSpan(span trace.Span, status int, bodyBytes int64, err error) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.Int64("http.response.body.size", bodyBytes),
	)
	if err != nil {
		span.RecordError(err)
	}
	if status == 0 || status >= 500 {
		span.SetStatus(codes.Error, wire.StatusText(status))
	}
	span.End()
}
