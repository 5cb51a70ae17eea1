// Package promexport exposes device and server counters as Prometheus metrics.
package promexport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-labrpc/device"
	"github.com/arloliu/go-labrpc/rpc"
)

const namespace = "labrpc"

// ErrDuplicate is returned when a device or server name is registered twice.
var ErrDuplicate = errors.New("metrics already registered")

// Registry owns a Prometheus registry and the collectors added to it.
type Registry struct {
	reg *prometheus.Registry

	mu         sync.Mutex
	collectors map[string][]prometheus.Collector
}

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		reg:        reg,
		collectors: make(map[string][]prometheus.Collector),
	}
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

func counter(subsystem, name, help string, labels prometheus.Labels, fn func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, func() float64 { return float64(fn()) })
}

func gauge(subsystem, name, help string, labels prometheus.Labels, fn func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn)
}

// RegisterDevice adds the counters of d, labelled with its name.
func (r *Registry) RegisterDevice(d *device.Device) error {
	labels := prometheus.Labels{"device": d.Name()}
	m := d.Metrics()

	cs := []prometheus.Collector{
		counter("device", "commands_total", "Commands executed.", labels, m.CommandCount.Load),
		counter("device", "failed_commands_total", "Commands that ended with an error.", labels, m.FailedCount.Load),
		counter("device", "retries_total", "Attempts beyond the first one.", labels, m.RetryCount.Load),
		counter("device", "reconnects_total", "Reopen attempts.", labels, m.ReconnectCount.Load),
		counter("device", "queue_submitted_total", "Operations accepted by the command queue.", labels,
			func() uint64 { return d.QueueMetrics().SubmittedCount.Load() }),
		counter("device", "queue_rejected_total", "Submissions refused because the queue was full.", labels,
			func() uint64 { return d.QueueMetrics().RejectedCount.Load() }),
		gauge("device", "queue_size", "Commands waiting for or under execution.", labels,
			func() float64 { return float64(d.QueueSize()) }),
		gauge("device", "open", "1 if the device is open.", labels,
			func() float64 { return boolValue(d.IsOpen()) }),
	}

	return r.register("device/"+d.Name(), cs)
}

// RegisterServer adds the counters of s, labelled with name.
func (r *Registry) RegisterServer(name string, s *rpc.Server) error {
	labels := prometheus.Labels{"server": name}
	m := s.Metrics()

	cs := []prometheus.Collector{
		counter("server", "accepted_total", "Accepted connections.", labels, m.AcceptedCount.Load),
		counter("server", "rejected_total", "Connections closed because the client limit was reached.", labels, m.RejectedCount.Load),
		counter("server", "messages_total", "Processed requests.", labels, m.MessageCount.Load),
		counter("server", "failed_messages_total", "Requests answered with a failure reply.", labels, m.FailedMessageCount.Load),
		gauge("server", "active_channels", "Open client connections.", labels,
			func() float64 { return float64(m.ActiveChannels.Load()) }),
		gauge("server", "open", "1 if the server is listening.", labels,
			func() float64 { return boolValue(s.IsOpen()) }),
	}

	return r.register("server/"+name, cs)
}

// Unregister removes the collectors registered under a device or server name.
func (r *Registry) Unregister(kind, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := kind + "/" + name
	cs, ok := r.collectors[key]
	if !ok {
		return false
	}

	for _, c := range cs {
		r.reg.Unregister(c)
	}
	delete(r.collectors, key)

	return true
}

func (r *Registry) register(key string, cs []prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collectors[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	for i, c := range cs {
		if err := r.reg.Register(c); err != nil {
			for _, done := range cs[:i] {
				r.reg.Unregister(done)
			}

			return fmt.Errorf("register %s: %w", key, err)
		}
	}
	r.collectors[key] = cs

	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

// Server serves a Registry over HTTP.
type Server struct {
	registry *Registry
	path     string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server. An empty path defaults to "/metrics".
func NewServer(registry *Registry, path string) *Server {
	if path == "" {
		path = "/metrics"
	}

	return &Server{registry: registry, path: path}
}

// Start listens on address and serves in the background.
func (s *Server) Start(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("metrics server already running")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.registry.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.server, s.listener = srv, ln

	go func() {
		_ = srv.Serve(ln)
	}()

	return nil
}

// Addr returns the listen address, or nil when not started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop shuts the server down, waiting for active requests until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	err := s.server.Shutdown(ctx)
	s.server, s.listener = nil, nil

	return err
}
