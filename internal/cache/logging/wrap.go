// Package logging decorates a cache.Store with trace spans and debug logging.
package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/sessiond/internal/cache"
	"pkt.systems/sessiond/internal/correlation"
)

type store struct {
	inner  cache.Store
	logger pslog.Logger
	tracer trace.Tracer
	node   string
}

// Wrap decorates inner with per-operation spans and debug logging. node is
// recorded on every span and log line so failover sequences can be followed
// across nodes.
func Wrap(inner cache.Store, logger pslog.Logger, node string) cache.Store {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &store{
		inner:  inner,
		logger: logger.With("node", node),
		tracer: otel.Tracer("pkt.systems/sessiond/cache"),
		node:   node,
	}
}

func (s *store) start(ctx context.Context, op string) (context.Context, trace.Span, pslog.Logger, func(error)) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "sessiond.cache."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("sessiond.cache.operation", op),
		attribute.String("sessiond.cache.node", s.node),
	)
	logger := s.logger
	if corr := correlation.ID(ctx); corr != "" {
		logger = logger.With("cid", corr)
		span.SetAttributes(attribute.String("sessiond.correlation_id", corr))
	}
	return ctx, span, logger, func(err error) {
		duration := time.Since(begin).Milliseconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache_error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.Int64("sessiond.cache.duration_ms", duration))
		span.End()
	}
}

func (s *store) Set(ctx context.Context, key string, ttl time.Duration, data []byte) error {
	ctx, span, logger, finish := s.start(ctx, "set")
	span.SetAttributes(
		attribute.Int("sessiond.cache.bytes", len(data)),
		attribute.Int64("sessiond.cache.ttl_seconds", int64(ttl.Seconds())),
	)
	err := s.inner.Set(ctx, key, ttl, data)
	finish(err)
	if err != nil {
		logger.Debug("cache.set.error", "key", key, "error", err)
		return err
	}
	logger.Debug("cache.set.success", "key", key, "bytes", len(data), "ttl", ttl)
	return nil
}

func (s *store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span, logger, finish := s.start(ctx, "get")
	data, err := s.inner.Get(ctx, key)
	span.SetAttributes(attribute.Int("sessiond.cache.bytes", len(data)))
	finish(err)
	if err != nil {
		logger.Debug("cache.get.error", "key", key, "error", err)
		return nil, err
	}
	logger.Debug("cache.get.success", "key", key, "bytes", len(data))
	return data, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	ctx, _, logger, finish := s.start(ctx, "delete")
	err := s.inner.Delete(ctx, key)
	finish(err)
	if err != nil {
		logger.Debug("cache.delete.error", "key", key, "error", err)
		return err
	}
	logger.Debug("cache.delete.success", "key", key)
	return nil
}

func (s *store) Ping(ctx context.Context) error {
	ctx, _, logger, finish := s.start(ctx, "ping")
	err := s.inner.Ping(ctx)
	finish(err)
	if err != nil {
		logger.Debug("cache.ping.error", "error", err)
	}
	return err
}

func (s *store) Close() error {
	return s.inner.Close()
}
