package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/linklink-server/internal/config"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// FeedCache caches anonymous feed responses in Redis. Every key embeds a
// generation counter; Invalidate bumps the counter so any poster change
// is visible on the next read while stale entries age out by TTL.
type FeedCache struct {
	cfg     config.CacheConfig
	methods map[string]bool
	rdb     *redis.Client
	log     *slog.Logger
}

// NewFeedCache creates a cache. A nil client or disabled config yields a
// pass-through cache.
func NewFeedCache(cfg config.CacheConfig, rdb *redis.Client, log *slog.Logger) *FeedCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	return &FeedCache{cfg: cfg, methods: cfg.MethodSet(), rdb: rdb, log: log}
}

func (f *FeedCache) enabled() bool {
	return f != nil && f.cfg.Enabled && f.rdb != nil
}

func (f *FeedCache) genKey() string { return f.cfg.Prefix + ":gen" }

// Invalidate drops every cached feed page.
func (f *FeedCache) Invalidate(ctx context.Context) error {
	if !f.enabled() {
		return nil
	}
	if err := f.rdb.Incr(ctx, f.genKey()).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}

func (f *FeedCache) generation(ctx context.Context) (int64, error) {
	n, err := f.rdb.Get(ctx, f.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Middleware serves cached responses to anonymous callers. It must run
// after OptionalAuth so authenticated viewers, whose feed differs, bypass
// the cache.
func (f *FeedCache) Middleware() echo.MiddlewareFunc {
	if !f.enabled() {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	maxBody := int64(f.cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !f.methods[strings.ToUpper(c.Request().Method)] || Username(c) != "" {
				return next(c)
			}

			ctx := c.Request().Context()
			gen, err := f.generation(ctx)
			if err != nil {
				f.log.WarnContext(ctx, "cache: read generation failed", slog.String("error", err.Error()))
				return next(c)
			}
			key := cacheKeyFrom(f.cfg, gen, c)

			if bs, err := f.rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, echo.HeaderContentLength) {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					if len(body) > 0 {
						_, _ = c.Response().Write(body)
					}
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}

			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes())
			if err != nil {
				return nil
			}
			if err := f.rdb.Set(context.WithoutCancel(ctx), key, payload, f.cfg.TTL).Err(); err != nil {
				f.log.WarnContext(ctx, "cache: store failed", slog.String("error", err.Error()))
			}
			return nil
		}
	}
}

// cacheKeyFrom builds a stable key honoring prefix, generation and strategy.
func cacheKeyFrom(cfg config.CacheConfig, gen int64, c echo.Context) string {
	r := c.Request()
	route := c.Path()
	query := r.URL.Query().Encode()

	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = []string{"route", route}
	case "method_route":
		parts = []string{"method", r.Method, "route", route}
	case "method_route_query":
		parts = []string{"method", r.Method, "route", route, "q", query}
	default: // route_query
		parts = []string{"route", route, "q", query}
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%d:%x", cfg.Prefix, gen, sum[:])
}

// encodePayload packs [4 bytes status][4 bytes headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}
