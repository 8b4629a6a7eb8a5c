package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/grafana/dskit/backoff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/tuberadio/pkg/decoder"
	"github.com/zachfi/tuberadio/pkg/resolver"
)

var tracer = otel.Tracer("tuberadio/radio")

func endSpan(span trace.Span, err error, message string) {
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprintf("%s: %v", message, err))
		return
	}
	span.SetStatus(codes.Ok, "ok")
}

func (c *Channel) running(ctx context.Context) error {
	c.idle = backoff.New(ctx, backoff.Config{
		MinBackoff: c.cfg.ResolveBackoff,
		MaxBackoff: c.cfg.ResolveBackoffMax,
	})

	c.logger.Info("producer started", "source", c.source, "mode", c.mode)

	for ctx.Err() == nil {
		if err := c.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			metricProducerErrors.WithLabelValues(c.name).Inc()
			c.logger.Error("producer error", "err", err, "backoff", c.cfg.ErrorBackoff)
			c.sleep(ctx, c.cfg.ErrorBackoff)
		}
	}

	return nil
}

func (c *Channel) stopping(_ error) error {
	c.queue.Close()
	metricQueueLength.WithLabelValues(c.name).Set(0)
	c.logger.Info("producer stopped")
	return nil
}

// cycle resolves when needed, then selects and plays one item.
func (c *Channel) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if c.needsResolve() {
		c.resolve(ctx)
	}

	if c.playlist.len() == 0 {
		c.sleep(ctx, c.idle.NextDelay())
		return nil
	}

	item, ok := c.playlist.next()
	if !ok {
		delay := c.idle.NextDelay()
		c.logger.Warn("no playable items", "items", c.playlist.len(), "failed", c.playlist.failedCount(), "retry", delay)
		c.refresh.Store(true)
		c.sleep(ctx, delay)
		return nil
	}

	return c.play(ctx, item)
}

func (c *Channel) needsResolve() bool {
	return c.playlist.len() == 0 || c.refresh.Load() || !time.Now().Before(c.resolveAfter)
}

func (c *Channel) resolve(ctx context.Context) {
	manual := c.refresh.Swap(false)
	// The cache may only answer while there is nothing to play yet.
	force := manual || c.playlist.len() > 0

	spanCtx, span := tracer.Start(ctx, "Resolve", trace.WithAttributes(
		attribute.String("channel", c.name),
		attribute.Bool("force", force),
	))
	entry, err := c.resolver.Resolve(spanCtx, c.name, c.source, force)
	if err == nil && len(entry.Items) == 0 {
		err = fmt.Errorf("%w: no items", resolver.ErrResolve)
	}
	endSpan(span, err, "resolve failed")

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metricResolveFailures.WithLabelValues(c.name).Inc()
		if c.playlist.len() > 0 {
			delay := c.idle.NextDelay()
			c.resolveAfter = time.Now().Add(delay)
			c.logger.Warn("resolve failed, keeping previous items", "err", err, "items", c.playlist.len(), "retry", delay)
			return
		}
		c.logger.Warn("resolve failed", "err", err)
		return
	}

	c.playlist.reset(entry.Items)
	c.resolveAfter = entry.ResolvedAt.Add(c.cfg.RefreshInterval)
	c.items.Store(int64(c.playlist.len()))
	c.failed.Store(0)

	c.mu.Lock()
	c.lastResolved = entry.ResolvedAt
	c.mu.Unlock()

	c.logger.Info("resolved items", "items", len(entry.Items), "resolved_at", entry.ResolvedAt)
}

// play decodes item into the queue. Only errors that are not the item's
// fault are returned; item failures are recorded in the playlist.
func (c *Channel) play(ctx context.Context, item resolver.Item) error {
	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.skip = false
	c.current = item
	c.startedAt = time.Now()
	c.cancelItem = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancelItem = nil
		c.current = resolver.Item{}
		c.mu.Unlock()
	}()

	logger := c.logger.With("item", item.ID)

	spanCtx, span := tracer.Start(itemCtx, "Decode", trace.WithAttributes(
		attribute.String("channel", c.name),
		attribute.String("item", item.ID),
	))
	stream, err := c.decoder.Decode(spanCtx, item)
	endSpan(span, err, "decode start failed")
	if err != nil {
		if itemCtx.Err() != nil {
			return nil
		}
		c.fail(item, "start")
		logger.Warn("decode failed to start", "err", err)
		return nil
	}

	stop := context.AfterFunc(itemCtx, func() {
		_ = stream.Terminate()
	})

	logger.Info("now playing", "title", item.Label())
	start := time.Now()

	n, drainErr := c.drain(itemCtx, stream, item)
	stop()
	closeErr := stream.Close()

	if n > 0 {
		c.idle.Reset()
	}

	switch {
	case ctx.Err() != nil:
		return nil
	case c.skipped():
		logger.Info("item skipped", "sent", humanize.IBytes(uint64(n)))
		return nil
	case errors.Is(drainErr, ErrClosed):
		return nil
	}

	err = errors.Join(drainErr, closeErr)
	switch {
	case err != nil && n == 0:
		c.fail(item, "runtime")
		logger.Warn("decode failed before output", "err", err)
	case err != nil:
		metricDecodeFailures.WithLabelValues(c.name, "partial").Inc()
		logger.Warn("decode failed after partial output", "err", err, "sent", humanize.IBytes(uint64(n)))
	case n == 0:
		c.fail(item, "empty")
		logger.Warn("decode produced no output", "err", errNoOutput)
	default:
		logger.Info("item finished", "sent", humanize.IBytes(uint64(n)), "duration", time.Since(start).Round(time.Second))
	}

	return nil
}

func (c *Channel) fail(item resolver.Item, stage string) {
	c.playlist.markFailed(item.ID)
	c.failed.Store(int64(c.playlist.failedCount()))
	metricDecodeFailures.WithLabelValues(c.name, stage).Inc()
}

// drain copies stream into the queue and returns the number of bytes pushed.
// A clean end of stream returns a nil error.
func (c *Channel) drain(ctx context.Context, stream decoder.Stream, item resolver.Item) (int64, error) {
	aligner := newFrameAligner(c.cfg.FrameSync)
	buf := make([]byte, c.cfg.ChunkSize)
	title := item.Label()

	var total int64
	push := func(data []byte) error {
		for len(data) > 0 {
			size := min(len(data), c.cfg.ChunkSize)
			if err := c.queue.Push(ctx, Chunk{Item: item.ID, Title: title, Data: data[:size:size]}); err != nil {
				return err
			}
			data = data[size:]
			total += int64(size)
			metricChunksProduced.WithLabelValues(c.name).Inc()
			metricQueueLength.WithLabelValues(c.name).Set(float64(c.queue.Len()))
		}
		return nil
	}

	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if perr := push(aligner.feed(buf[:n])); perr != nil {
				return total, perr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, push(aligner.flush())
		}
		if err != nil {
			return total, err
		}
	}
}
