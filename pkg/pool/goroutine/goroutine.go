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

// Package goroutine wraps ants pools for the worker strategy of nio transports.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/panjf2000/nio/pkg/logging"
)

const (
	// DefaultAntsPoolSize sets up the capacity of worker pool, 256 * 1024.
	DefaultAntsPoolSize = 1 << 18

	// ExpiryDuration is the interval time to clean up those expired workers.
	ExpiryDuration = 10 * time.Second
)

func init() {
	// It releases the default pool from ants.
	ants.Release()
}

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// Config describes a named worker pool.
type Config struct {
	// Name shows up in the logs of the pool.
	Name string
	// Core only decides whether the worker queue of ants is pre-allocated, which happens when
	// it covers the whole capacity (Core >= Max). ants has no notion of core workers otherwise,
	// workers are spawned on demand up to Max and expire after KeepAlive.
	Core int
	// Max is the capacity of the pool, a non-positive value means DefaultAntsPoolSize.
	Max int
	// KeepAlive is the expiry of idle workers, ExpiryDuration by default.
	KeepAlive time.Duration
	// Nonblocking makes Submit fail instead of waiting when the pool is full.
	Nonblocking bool
	// Logger receives the panics of tasks.
	Logger logging.Logger
}

// New instantiates a pool from the given config.
func New(cfg Config) (*Pool, error) {
	size := cfg.Max
	if size <= 0 {
		size = DefaultAntsPoolSize
	}
	expiry := cfg.KeepAlive
	if expiry <= 0 {
		expiry = ExpiryDuration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	name := cfg.Name
	options := ants.Options{
		ExpiryDuration: expiry,
		Nonblocking:    cfg.Nonblocking,
		PreAlloc:       cfg.Core > 0 && cfg.Core >= size,
		PanicHandler: func(v interface{}) {
			logger.Errorf("worker of pool(%s) exits from panic: %v", name, v)
		},
		Logger: antsLogger{logger},
	}
	return ants.NewPool(size, ants.WithOptions(options))
}

type antsLogger struct {
	logging.Logger
}

func (l antsLogger) Printf(format string, args ...interface{}) {
	l.Infof(format, args...)
}
