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
	"time"

	"github.com/panjf2000/nio/internal/netpoll"
	"github.com/panjf2000/nio/pkg/logging"
	"github.com/panjf2000/nio/pkg/memory"
)

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := &Options{
		ReadBufferCap:                defaultReadBufferCap,
		MaxPendingBytesPerConnection: -1,
		ReuseAddr:                    true,
		TCPNoDelay:                   true,
		PollTimeout:                  netpoll.DefaultPollTimeout,
		LogLevel:                     logging.InfoLevel,
	}
	for _, option := range options {
		option(opts)
	}
	return opts
}

const defaultReadBufferCap = 64 * 1024

// IOStrategy tells where filter chains are executed.
type IOStrategy int

const (
	// SameThreadIOStrategy runs filter chains on the runner that detected the event.
	SameThreadIOStrategy IOStrategy = iota

	// WorkerThreadIOStrategy hands filter chains over to the worker pool, inbound processing of
	// one connection stays serialized.
	WorkerThreadIOStrategy
)

func (s IOStrategy) String() string {
	switch s {
	case SameThreadIOStrategy:
		return "same-thread"
	case WorkerThreadIOStrategy:
		return "worker-thread"
	}
	return "unknown"
}

// ThreadPoolConfig describes the worker pool of a transport.
type ThreadPoolConfig struct {
	// PoolName shows up in the logs of the pool.
	PoolName string
	// CorePoolSize is the number of workers allocated up front.
	CorePoolSize int
	// MaxPoolSize is the capacity of the pool.
	MaxPoolSize int
	// KeepAlive is the expiry of idle workers.
	KeepAlive time.Duration
}

// Options are set when the transport is created.
type Options struct {
	// RunnersCount is the number of runners, runtime.NumCPU() is used when it's not positive.
	RunnersCount int

	// IOStrategy chooses where filter chains run.
	IOStrategy IOStrategy

	// WorkerPool configures the pool backing WorkerThreadIOStrategy and outgoing connects.
	WorkerPool ThreadPoolConfig

	// LockOSThread is used to determine whether each runner is bound to an OS thread.
	LockOSThread bool

	// ReadBufferCap is the maximum number of bytes a runner reads from a socket at once, 64KB by default.
	ReadBufferCap int

	// MaxPendingBytesPerConnection is the ceiling of queued outbound bytes, negative means unbounded.
	MaxPendingBytesPerConnection int

	// Blocking is the default blocking mode of new connections.
	Blocking bool

	// Distribution picks the built-in connection distributor.
	Distribution Distribution

	// Distributor replaces the built-in ones.
	Distributor ConnectionDistributor

	// Processor is the filter chain of new connections.
	Processor *FilterChain

	// Allocator hands out the buffers, a slab allocator is used when it's nil.
	Allocator memory.Allocator

	// PollTimeout bounds every poll of the runners.
	PollTimeout time.Duration

	// ReuseAddr indicates whether to set up the SO_REUSEADDR socket option on listeners.
	ReuseAddr bool

	// ReusePort indicates whether to set up the SO_REUSEPORT socket option on listeners.
	ReusePort bool

	// TCPNoDelay controls whether the operating system should delay
	// packet transmission in hopes of sending fewer packets (Nagle's algorithm).
	TCPNoDelay bool

	// TCPKeepAlive sets up a duration for (SO_KEEPALIVE) socket option.
	TCPKeepAlive time.Duration

	// SocketRecvBuffer sets the maximum socket receive buffer in bytes.
	SocketRecvBuffer int

	// SocketSendBuffer sets the maximum socket send buffer in bytes.
	SocketSendBuffer int

	// LogPath the local path where logs will be written, this is the easiest way to set up logging,
	// nio instantiates a default uber-go/zap logger with this given log path, you are also allowed to employ
	// you own logger during the lifetime by implementing the following log.Logger interface.
	//
	// Note that this option can be overridden by the option Logger.
	LogPath string

	// LogLevel indicates the logging level, it should be used along with LogPath.
	LogLevel logging.Level

	// Logger is the customized logger for logging info, if it is not set,
	// then nio will use the default logger powered by go.uber.org/zap.
	Logger logging.Logger
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithRunnersCount sets up the number of runners.
func WithRunnersCount(n int) Option {
	return func(opts *Options) {
		opts.RunnersCount = n
	}
}

// WithIOStrategy sets up the IO strategy.
func WithIOStrategy(s IOStrategy) Option {
	return func(opts *Options) {
		opts.IOStrategy = s
	}
}

// WithWorkerThreadPoolConfig sets up the worker pool.
func WithWorkerThreadPoolConfig(cfg ThreadPoolConfig) Option {
	return func(opts *Options) {
		opts.WorkerPool = cfg
	}
}

// WithLockOSThread sets up LockOSThread mode for runners.
func WithLockOSThread(lockOSThread bool) Option {
	return func(opts *Options) {
		opts.LockOSThread = lockOSThread
	}
}

// WithReadBufferCap sets up ReadBufferCap for reading bytes.
func WithReadBufferCap(readBufferCap int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = readBufferCap
	}
}

// WithMaxPendingBytesPerConnection sets up the ceiling of queued outbound bytes.
func WithMaxPendingBytesPerConnection(n int) Option {
	return func(opts *Options) {
		opts.MaxPendingBytesPerConnection = n
	}
}

// WithBlocking sets up the default blocking mode of connections.
func WithBlocking(blocking bool) Option {
	return func(opts *Options) {
		opts.Blocking = blocking
	}
}

// WithDistribution sets up the built-in connection distributor.
func WithDistribution(d Distribution) Option {
	return func(opts *Options) {
		opts.Distribution = d
	}
}

// WithConnectionDistributor sets up a customized connection distributor.
func WithConnectionDistributor(d ConnectionDistributor) Option {
	return func(opts *Options) {
		opts.Distributor = d
	}
}

// WithProcessor sets up the filter chain.
func WithProcessor(fc *FilterChain) Option {
	return func(opts *Options) {
		opts.Processor = fc
	}
}

// WithAllocator sets up the buffer allocator.
func WithAllocator(a memory.Allocator) Option {
	return func(opts *Options) {
		opts.Allocator = a
	}
}

// WithPollTimeout sets up the upper bound of every poll.
func WithPollTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.PollTimeout = d
	}
}

// WithReuseAddr sets up SO_REUSEADDR socket option.
func WithReuseAddr(reuseAddr bool) Option {
	return func(opts *Options) {
		opts.ReuseAddr = reuseAddr
	}
}

// WithReusePort sets up SO_REUSEPORT socket option.
func WithReusePort(reusePort bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

// WithTCPNoDelay enable/disable the TCP_NODELAY socket option.
func WithTCPNoDelay(noDelay bool) Option {
	return func(opts *Options) {
		opts.TCPNoDelay = noDelay
	}
}

// WithTCPKeepAlive sets up the SO_KEEPALIVE socket option with duration.
func WithTCPKeepAlive(tcpKeepAlive time.Duration) Option {
	return func(opts *Options) {
		opts.TCPKeepAlive = tcpKeepAlive
	}
}

// WithSocketRecvBuffer sets the maximum socket receive buffer in bytes.
func WithSocketRecvBuffer(recvBuf int) Option {
	return func(opts *Options) {
		opts.SocketRecvBuffer = recvBuf
	}
}

// WithSocketSendBuffer sets the maximum socket send buffer in bytes.
func WithSocketSendBuffer(sendBuf int) Option {
	return func(opts *Options) {
		opts.SocketSendBuffer = sendBuf
	}
}

// WithLogPath is an option to set up the local path of log file.
func WithLogPath(fileName string) Option {
	return func(opts *Options) {
		opts.LogPath = fileName
	}
}

// WithLogLevel is an option to set up the logging level.
func WithLogLevel(lvl logging.Level) Option {
	return func(opts *Options) {
		opts.LogLevel = lvl
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}
