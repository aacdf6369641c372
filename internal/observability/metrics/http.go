package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type errorKey struct {
	handler string
	method  string
}

type latencyKey struct {
	handler string
	method  string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[errorKey]uint64
	latency  map[latencyKey]*histogram
}

var httpCollector = newCollector()

func newCollector() *collector {
	return &collector{
		requests: make(map[requestKey]uint64),
		errors:   make(map[errorKey]uint64),
		latency:  make(map[latencyKey]*histogram),
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCollector.observe(handler, method, status, duration)
}

func (c *collector) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	if status >= 500 {
		c.errors[errorKey{handler: handler, method: method}]++
	}

	latKey := latencyKey{handler: handler, method: method}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe 累加直方图，大于最后一个桶的值只计入 +Inf（即 count）。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler exposes HTTP and agent metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, Render())
	})
}

// Render returns the current snapshot in Prometheus text format.
func Render() string {
	var builder strings.Builder
	builder.Grow(2048)
	httpCollector.render(&builder)
	agentCollector.render(&builder)
	return builder.String()
}

func (c *collector) render(builder *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, b := reqKeys[i], reqKeys[j]
		if a.handler != b.handler {
			return a.handler < b.handler
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.code < b.code
	})

	errKeys := make([]errorKey, 0, len(c.errors))
	for key := range c.errors {
		errKeys = append(errKeys, key)
	}
	sort.Slice(errKeys, func(i, j int) bool {
		if errKeys[i].handler != errKeys[j].handler {
			return errKeys[i].handler < errKeys[j].handler
		}
		return errKeys[i].method < errKeys[j].method
	})

	latKeys := make([]latencyKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].handler != latKeys[j].handler {
			return latKeys[i].handler < latKeys[j].handler
		}
		return latKeys[i].method < latKeys[j].method
	})

	builder.WriteString("# HELP yield_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE yield_http_requests_total counter\n")
	for _, key := range reqKeys {
		fmt.Fprintf(builder, "yield_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key])
	}

	builder.WriteString("# HELP yield_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	builder.WriteString("# TYPE yield_http_request_errors_total counter\n")
	for _, key := range errKeys {
		fmt.Fprintf(builder, "yield_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), c.errors[key])
	}

	builder.WriteString("# HELP yield_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE yield_http_request_duration_seconds histogram\n")
	for _, key := range latKeys {
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(key.handler), escape(key.method))
		writeHistogram(builder, "yield_http_request_duration_seconds", labels, c.latency[key])
	}
}

func writeHistogram(builder *strings.Builder, name, labels string, hist *histogram) {
	for idx, bound := range hist.buckets {
		fmt.Fprintf(builder, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), hist.counts[idx])
	}
	fmt.Fprintf(builder, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, hist.count)
	fmt.Fprintf(builder, "%s_sum{%s} %s\n", name, labels, formatFloat(hist.sum))
	fmt.Fprintf(builder, "%s_count{%s} %d\n", name, labels, hist.count)
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
