package core

// node.go – wiring and lifecycle of one DHT node.
//
// A node owns two TCP listeners (ring traffic and local API), the shared
// routing table and store, an outbound connection pool, and the
// stabilizer. Everything runs under one errgroup so a broken listener
// tears the node down instead of leaving it half-alive.

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"chord-network/pkg/utils"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultWorkerThreads         = 4
	DefaultTimeout               = 300000 * time.Millisecond
	DefaultFingers               = 128
	DefaultStabilizationInterval = 60 * time.Second
	DefaultReplication           = 4
)

// Config carries everything a node needs to run.
type Config struct {
	// ListenAddr is the host:port for ring-facing TCP. Required.
	ListenAddr string
	// APIAddr is the host:port for the local client API. Required.
	APIAddr string
	// StatusAddr enables the HTTP status endpoint when non-empty.
	StatusAddr string
	// Bootstrap is the host:port of a known ring member; empty starts a
	// fresh singleton ring.
	Bootstrap string

	// WorkerThreads bounds concurrently serviced peer connections.
	WorkerThreads int
	// Timeout applies to every socket operation.
	Timeout time.Duration
	// Fingers is the finger table size F.
	Fingers int
	// StabilizationInterval is the stabilizer tick period.
	StabilizationInterval time.Duration
	// Replication is how many indices a client get searches.
	Replication uint8
}

func (c Config) withDefaults() Config {
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = DefaultWorkerThreads
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Fingers <= 0 {
		c.Fingers = DefaultFingers
	}
	if c.StabilizationInterval <= 0 {
		c.StabilizationInterval = DefaultStabilizationInterval
	}
	if c.Replication == 0 {
		c.Replication = DefaultReplication
	}
	return c
}

// Node is one ring member.
type Node struct {
	cfg   Config
	log   *logrus.Entry
	rt    *RoutingTable
	store *Store
	pool  *ConnPool
	rpc   *rpcClient

	peerLn   net.Listener
	apiLn    net.Listener
	statusLn net.Listener
	status   *http.Server

	workers    *semaphore.Weighted
	nextFinger int

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// NewNode binds the configured listeners and assembles the node. The
// node's identity is derived from the actual bound ring address, so a
// port-zero listen address gets a stable identity once the kernel picks
// the port.
func NewNode(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("node: listen_address is required")
	}
	if cfg.APIAddr == "" {
		return nil, fmt.Errorf("node: api_address is required")
	}

	peerLn, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, utils.Wrapf(err, "node: bind %s", cfg.ListenAddr)
	}
	apiLn, err := net.Listen("tcp", cfg.APIAddr)
	if err != nil {
		_ = peerLn.Close()
		return nil, utils.Wrapf(err, "node: bind %s", cfg.APIAddr)
	}

	self := PeerFromAddrPort(peerLn.Addr().(*net.TCPAddr).AddrPort())
	rt := NewRoutingTable(self, cfg.Fingers)
	pool := NewConnPool(&Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}, cfg.WorkerThreads, cfg.Timeout)
	log := logrus.WithField("node", self.ID.Short())

	n := &Node{
		cfg:     cfg,
		log:     log,
		rt:      rt,
		store:   NewStore(rt),
		pool:    pool,
		rpc:     &rpcClient{pool: pool, timeout: cfg.Timeout, log: log},
		peerLn:  peerLn,
		apiLn:   apiLn,
		workers: semaphore.NewWeighted(int64(cfg.WorkerThreads)),
	}

	if cfg.StatusAddr != "" {
		statusLn, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			_ = peerLn.Close()
			_ = apiLn.Close()
			return nil, utils.Wrapf(err, "node: bind %s", cfg.StatusAddr)
		}
		n.statusLn = statusLn
		n.status = &http.Server{Handler: n.statusRouter(), ReadHeaderTimeout: cfg.Timeout}
	}
	return n, nil
}

// Self returns this node's ring identity.
func (n *Node) Self() Peer {
	return n.rt.Self()
}

// Routing exposes the routing table for inspection.
func (n *Node) Routing() *RoutingTable {
	return n.rt
}

// APIAddr returns the bound client API endpoint.
func (n *Node) APIAddr() net.Addr {
	return n.apiLn.Addr()
}

// Start joins the ring when a bootstrap peer is configured and launches
// the accept loops and the stabilizer.
func (n *Node) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel

	if n.cfg.Bootstrap != "" {
		bootstrap, err := ResolvePeer(n.cfg.Bootstrap)
		if err != nil {
			cancel()
			return err
		}
		joinCtx, done := context.WithTimeout(ctx, n.cfg.Timeout)
		err = n.join(joinCtx, bootstrap)
		done()
		if err != nil {
			cancel()
			return utils.Wrapf(err, "node: join via %s", n.cfg.Bootstrap)
		}
	} else {
		n.log.Info("starting singleton ring")
	}

	eg, ctx := errgroup.WithContext(ctx)
	n.eg = eg
	eg.Go(func() error { return n.servePeers(ctx) })
	eg.Go(func() error { return n.serveAPI(ctx) })
	eg.Go(func() error { return n.runStabilizer(ctx) })
	eg.Go(func() error {
		// a failed loop cancels ctx; closing every listener unblocks the rest
		<-ctx.Done()
		_ = n.peerLn.Close()
		_ = n.apiLn.Close()
		if n.status != nil {
			_ = n.status.Close()
		}
		return nil
	})
	if n.status != nil {
		eg.Go(func() error {
			if err := n.status.Serve(n.statusLn); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	n.log.WithFields(logrus.Fields{
		"listen": n.peerLn.Addr().String(),
		"api":    n.apiLn.Addr().String(),
	}).Info("node started")
	return nil
}

// Wait blocks until the node stops and returns the first fatal error.
func (n *Node) Wait() error {
	return n.eg.Wait()
}

// Close shuts the node down: listeners close, in-flight handlers finish
// or time out, the stabilizer exits.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	_ = n.peerLn.Close()
	_ = n.apiLn.Close()
	if n.status != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = n.status.Shutdown(shutdownCtx)
		done()
	}
	var err error
	if n.eg != nil {
		err = n.eg.Wait()
	}
	n.pool.Close()
	return err
}
