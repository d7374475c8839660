// Package service assembles the bridge: broker client, connection pool,
// exchange, event tunnel and HTTP gateway, wired together and torn down
// as one unit.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/thingbridge/config"
	"github.com/c360/thingbridge/descriptor"
	"github.com/c360/thingbridge/errors"
	"github.com/c360/thingbridge/exchange"
	gatewayhttp "github.com/c360/thingbridge/gateway/http"
	"github.com/c360/thingbridge/health"
	"github.com/c360/thingbridge/metric"
	"github.com/c360/thingbridge/natsclient"
	"github.com/c360/thingbridge/pkg/retry"
	"github.com/c360/thingbridge/pool"
	"github.com/c360/thingbridge/serializer"
	"github.com/c360/thingbridge/tunnel"
)

// Bridge is the assembled service.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	nats     *natsclient.Client
	wire     serializer.Serializer
	registry *natsclient.AddressRegistry
	pool     *pool.Pool
	exchange *exchange.Exchange
	streams  *tunnel.Tunnel
	gateway  *gatewayhttp.Gateway
	table    *descriptor.Table
	metrics  *metric.Registry
	monitor  *health.Monitor
	server   *http.Server

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds the bridge from configuration. Nothing connects until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := append([]natsclient.ClientOption{
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithTimeout(cfg.NATS.Timeout),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithLogger(&slogAdapter{logger: logger.With("component", "natsclient")}),
	}, natsOptions(cfg)...)

	nc, err := natsclient.NewClient(cfg.NATS.URL, clientOpts...)
	if err != nil {
		return nil, err
	}

	wire, err := serializer.For(cfg.Serializer, nil)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:     cfg,
		logger:  logger,
		nats:    nc,
		wire:    wire,
		table:   descriptor.NewTable(),
		metrics: metric.NewRegistry(),
		monitor: health.NewMonitor(),
		stopCh:  make(chan struct{}),
	}

	b.streams = tunnel.New(cfg.Tunnel.MaxStreams,
		tunnel.WithLogger(logger.With("component", "tunnel")),
		tunnel.WithPollInterval(cfg.Tunnel.PollInterval),
		tunnel.WithMetrics(b.metrics.Registerer()))

	return b, nil
}

// natsOptions collects the conditional client options.
func natsOptions(cfg *config.Config) []natsclient.ClientOption {
	var opts []natsclient.ClientOption
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(
			cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}
	return opts
}

// Run connects, registers the statically configured Things and serves
// until the context ends or Stop fires. Shutdown is graceful: the
// listener drains, streams and bindings close, the broker connection
// goes last.
func (b *Bridge) Run(ctx context.Context) error {
	// The broker often comes up after the bridge in fresh deployments, so
	// the initial connect backs off instead of failing outright.
	if err := retry.Do(ctx, retry.Quick(), func() error {
		return b.nats.Connect(ctx)
	}); err != nil {
		return err
	}

	if b.cfg.Pool.UseRegistry {
		reg, err := b.nats.OpenAddressRegistry(ctx)
		if err != nil {
			// The bucket needs JetStream; run without discovery when the
			// broker has none.
			b.logger.Warn("address registry unavailable, rebind discovery disabled", "error", err)
		} else {
			b.registry = reg
		}
	}

	b.buildGraph()
	if err := b.registerStaticThings(ctx); err != nil {
		return err
	}

	if err := b.streams.Start(ctx); err != nil {
		return err
	}
	if err := b.gateway.Start(ctx); err != nil {
		return err
	}

	b.registerHealthChecks()

	mux := http.NewServeMux()
	mux.Handle("/metrics", b.metrics.Handler())
	mux.Handle("/health", b.monitor.Handler())
	b.gateway.RegisterHTTPHandlers(mux)

	b.server = &http.Server{
		Addr:        b.cfg.Server.ListenAddr,
		Handler:     mux,
		ReadTimeout: b.cfg.Server.ReadTimeout,
		// WriteTimeout stays zero: SSE streams are long-lived.
		WriteTimeout: b.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("bridge listening", "addr", b.cfg.Server.ListenAddr)
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.WrapFatal(err, "Bridge", "Run", "http listener")
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-b.stopCh:
		}
		return b.shutdown()
	})

	return g.Wait()
}

// Stop triggers a graceful shutdown. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// buildGraph wires pool, exchange and gateway once the broker is up.
func (b *Bridge) buildGraph() {
	dial := func(ctx context.Context, _, address string) (pool.Conn, error) {
		tc, err := b.nats.DialThing(ctx, address)
		if err != nil {
			return nil, err
		}
		return thingConn{tc}, nil
	}

	poolOpts := []pool.Option{
		pool.WithLogger(b.logger.With("component", "pool")),
		pool.WithHandshakeTimeout(b.cfg.Pool.HandshakeTimeout),
		pool.WithMetrics(b.metrics.Registerer()),
	}
	if b.registry != nil {
		poolOpts = append(poolOpts, pool.WithRegistry(b.registry))
	}
	b.pool = pool.New(dial, poolOpts...)

	b.exchange = exchange.New(b.pool,
		exchange.WithLogger(b.logger.With("component", "exchange")),
		exchange.WithDefaultTimeout(b.cfg.Gateway.DefaultTimeout),
		exchange.WithSerializer(b.wire))

	gw, err := gatewayhttp.NewGateway(b.cfg.Gateway, b.table, b.exchange,
		gatewayhttp.WithLogger(b.logger.With("component", "gateway")),
		gatewayhttp.WithRegistrar(b.pool),
		gatewayhttp.WithEvents(b, b.streams),
		gatewayhttp.WithStopTrigger(b.Stop),
		gatewayhttp.WithMetrics(b.metrics.Registerer()))
	if err != nil {
		// Config was validated in New; this only trips on programmer error.
		panic(fmt.Sprintf("service: building gateway: %v", err))
	}
	b.gateway = gw
}

// OpenEvent attaches a broker feed for an event descriptor. It satisfies
// the gateway's EventOpener.
func (b *Bridge) OpenEvent(ctx context.Context, res *descriptor.Resource) (tunnel.Source, error) {
	h, err := b.pool.Resolve(ctx, res.ThingID)
	if err != nil {
		return nil, err
	}
	return b.nats.SubscribeEvent(h.Address(), res.EventTopic, 64)
}

// registerStaticThings binds the Things named in the configuration.
func (b *Bridge) registerStaticThings(ctx context.Context) error {
	for _, thing := range b.cfg.Things {
		if _, err := b.pool.Register(ctx, thing.ID, thing.Address); err != nil {
			return errors.WrapFatal(err, "Bridge", "Run",
				"register configured thing "+thing.ID)
		}
	}
	return nil
}

func (b *Bridge) registerHealthChecks() {
	b.monitor.Register("nats", func() health.Status {
		status := b.nats.GetStatus()
		switch status.Status {
		case natsclient.StatusConnected:
			return health.NewStatus("nats", health.Healthy, "")
		case natsclient.StatusReconnecting, natsclient.StatusConnecting:
			return health.NewStatus("nats", health.Degraded, status.Status.String())
		default:
			return health.NewStatus("nats", health.Unhealthy, status.Status.String())
		}
	})
	b.monitor.Register("pool", func() health.Status {
		return health.NewStatus("pool", health.Healthy,
			fmt.Sprintf("%d things bound", len(b.pool.Things())))
	})
}

// shutdown tears the bridge down back to front.
func (b *Bridge) shutdown() error {
	b.logger.Info("bridge shutting down")

	timeout := b.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			firstErr = errors.WrapTransient(err, "Bridge", "shutdown", "drain http server")
		}
	}

	if err := b.gateway.Stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := b.streams.Stop(timeout); err != nil && firstErr == nil {
		firstErr = err
	}
	if b.pool != nil {
		if err := b.pool.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.nats.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	b.logger.Info("bridge stopped")
	return firstErr
}

// thingConn adapts the NATS conduit to the pool's Conn interface; the
// concrete reply inbox type stays private to the transport.
type thingConn struct {
	*natsclient.ThingConn
}

func (c thingConn) Send(ctx context.Context, data []byte) (pool.Replies, error) {
	return c.ThingConn.Send(ctx, data)
}

// slogAdapter lets the NATS client log through the bridge's logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Printf(format string, v ...any) {
	a.logger.Info(fmt.Sprintf(format, v...))
}

func (a *slogAdapter) Errorf(format string, v ...any) {
	a.logger.Error(fmt.Sprintf(format, v...))
}

func (a *slogAdapter) Debugf(format string, v ...any) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}
