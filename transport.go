// Copyright (c) 2023 The Gnet Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build darwin || dragonfly || freebsd || linux

package nio

import (
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/logging"
	"github.com/panjf2000/nio/pkg/memory"
	"github.com/panjf2000/nio/pkg/pool/goroutine"
)

// DefaultWorkerPoolName is the name of worker pools when ThreadPoolConfig.PoolName is empty.
const DefaultWorkerPoolName = "nio-worker"

// Transport owns a set of runners, the listening endpoints bound to it and the connections
// accepted or established through it. Transports are independent of each other, a stopped
// transport can be started again.
type Transport struct {
	opts      *Options
	logger    logging.Logger
	flush     logging.Flusher
	allocator memory.Allocator

	// mu serializes the lifecycle, filters never take it.
	mu          sync.RWMutex
	group       *errgroup.Group
	builtin     runnerSet
	distributor ConnectionDistributor // custom one, nil means builtin
	servers     []*ServerConnection

	started atomic.Bool
	runners atomic.Pointer[[]*Runner]
	workers atomic.Pointer[goroutine.Pool]

	processor  atomic.Pointer[FilterChain]
	maxPending atomic.Int64
	blocking   atomic.Bool
	conns      sync.Map // connection id -> *conn
}

// NewTransport creates a stopped transport.
func NewTransport(opts ...Option) *Transport {
	options := loadOptions(opts...)
	t := &Transport{opts: options, distributor: options.Distributor}

	t.logger = options.Logger
	if t.logger == nil && options.LogPath != "" {
		var err error
		if t.logger, t.flush, err = logging.CreateLoggerAsLocalFile(options.LogPath, options.LogLevel); err != nil {
			logging.Warnf("failed to create the logger of %s, falling back to the default one: %v", options.LogPath, err)
		}
	}
	if t.logger == nil {
		t.logger = logging.GetDefaultLogger()
	}

	t.allocator = options.Allocator
	if t.allocator == nil {
		t.allocator = memory.NewSlabAllocator(0, 0)
	}
	if options.ReadBufferCap <= 0 {
		options.ReadBufferCap = defaultReadBufferCap
	}
	t.processor.Store(options.Processor)
	t.maxPending.Store(int64(options.MaxPendingBytesPerConnection))
	t.blocking.Store(options.Blocking)
	return t
}

// IsStarted tells whether the runners of the transport are running.
func (t *Transport) IsStarted() bool { return t.started.Load() }

// Runners returns the runners of a started transport, in index order.
func (t *Transport) Runners() []*Runner {
	p := t.runners.Load()
	if p == nil {
		return nil
	}
	rs := make([]*Runner, len(*p))
	copy(rs, *p)
	return rs
}

// Servers returns the listening endpoints bound to the transport.
func (t *Transport) Servers() []*ServerConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	servers := make([]*ServerConnection, len(t.servers))
	copy(servers, t.servers)
	return servers
}

// CountConnections returns the number of connections which haven't been closed yet.
func (t *Transport) CountConnections() (n int) {
	t.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return
}

// Allocator returns the buffer allocator of the transport.
func (t *Transport) Allocator() memory.Allocator { return t.allocator }

// Logger returns the logger of the transport.
func (t *Transport) Logger() logging.Logger { return t.logger }

// ConfigureBlocking sets the blocking mode of connections opened afterwards.
func (t *Transport) ConfigureBlocking(blocking bool) { t.blocking.Store(blocking) }

// IsBlocking returns the blocking mode of new connections.
func (t *Transport) IsBlocking() bool { return t.blocking.Load() }

// SetProcessor sets the filter chain of connections opened afterwards.
func (t *Transport) SetProcessor(fc *FilterChain) { t.processor.Store(fc) }

// Processor returns the filter chain of new connections.
func (t *Transport) Processor() *FilterChain { return t.processor.Load() }

// SetMaxPendingBytesPerConnection sets the ceiling of queued outbound bytes of every connection,
// a negative value means unbounded. It takes effect on the next write.
func (t *Transport) SetMaxPendingBytesPerConnection(n int) { t.maxPending.Store(int64(n)) }

// MaxPendingBytesPerConnection returns the ceiling of queued outbound bytes.
func (t *Transport) MaxPendingBytesPerConnection() int { return int(t.maxPending.Load()) }

// settle runs fn on the options unless the transport is running.
func (t *Transport) settle(fn func(opts *Options)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.Load() {
		return errors.ErrTransportStarted
	}
	fn(t.opts)
	return nil
}

// SetRunnersCount sets the number of runners, runtime.NumCPU() is used when n isn't positive.
func (t *Transport) SetRunnersCount(n int) error {
	return t.settle(func(opts *Options) { opts.RunnersCount = n })
}

// RunnersCount returns the number of runners the transport starts.
func (t *Transport) RunnersCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runnersCount()
}

func (t *Transport) runnersCount() int {
	if n := t.opts.RunnersCount; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// SetIOStrategy chooses where filter chains run.
func (t *Transport) SetIOStrategy(s IOStrategy) error {
	return t.settle(func(opts *Options) { opts.IOStrategy = s })
}

// IOStrategy returns where filter chains run.
func (t *Transport) IOStrategy() IOStrategy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.opts.IOStrategy
}

// SetWorkerThreadPoolConfig configures the worker pool created on the next start.
func (t *Transport) SetWorkerThreadPoolConfig(cfg ThreadPoolConfig) error {
	return t.settle(func(opts *Options) { opts.WorkerPool = cfg })
}

// WorkerThreadPoolConfig returns the configuration of the worker pool.
func (t *Transport) WorkerThreadPoolConfig() ThreadPoolConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cfg := t.opts.WorkerPool
	if cfg.PoolName == "" {
		cfg.PoolName = DefaultWorkerPoolName
	}
	return cfg
}

// WorkerPool returns the worker pool of a started transport.
func (t *Transport) WorkerPool() *goroutine.Pool { return t.workers.Load() }

// SetConnectionDistributor replaces the built-in distributor, nil restores it.
func (t *Transport) SetConnectionDistributor(d ConnectionDistributor) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.Load() {
		return errors.ErrTransportStarted
	}
	t.distributor = d
	return nil
}

// selectRunner asks the distributor for a runner, the built-in one covers for
// custom distributors returning nil or a foreign runner.
func (t *Transport) selectRunner(ev IOEvent, remote net.Addr) *Runner {
	if d := t.distributor; d != nil {
		if r := d.SelectRunner(ev, remote); r != nil && r.transport == t {
			return r
		}
	}
	return t.builtin.SelectRunner(ev, remote)
}

// parseProtoAddr splits addresses like "tcp://127.0.0.1:9000", "tcp" is assumed
// when the scheme is missing.
func parseProtoAddr(addr string) (network, address string) {
	network, address = "tcp", addr
	if strings.Contains(addr, "://") {
		pair := strings.SplitN(addr, "://", 2)
		network = strings.ToLower(pair[0])
		address = pair[1]
	}
	return
}
