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
	"hash/crc32"
	"net"
	"sync/atomic"
)

// Distribution represents the type of built-in connection distributor.
type Distribution int

const (
	// RoundRobin assigns the next connection to the runner by polling the runner list.
	RoundRobin Distribution = iota

	// LeastConnections assigns the next connection to the runner that is
	// serving the least number of active connections at the current time.
	LeastConnections

	// SourceAddrHash assigns the next connection to the runner by hashing the remote address.
	SourceAddrHash
)

// ConnectionDistributor assigns new and migrating connections to runners.
//
// ev is EventAccept for listening endpoints, EventRead for accepted connections and
// EventConnect for outgoing ones. SelectRunner may be called from any goroutine,
// the runners of a started transport are listed by Transport.Runners.
type ConnectionDistributor interface {
	SelectRunner(ev IOEvent, remote net.Addr) *Runner
}

// ConnectionDistributorFunc is an adapter to allow the use of ordinary functions as distributors.
type ConnectionDistributorFunc func(ev IOEvent, remote net.Addr) *Runner

// SelectRunner calls f(ev, remote).
func (f ConnectionDistributorFunc) SelectRunner(ev IOEvent, remote net.Addr) *Runner {
	return f(ev, remote)
}

// runnerSet is implemented by the built-in distributors, they are refilled on every start.
type runnerSet interface {
	ConnectionDistributor
	register(*Runner)
}

func newDistributor(d Distribution) runnerSet {
	switch d {
	case LeastConnections:
		return new(leastConnectionsDistributor)
	case SourceAddrHash:
		return new(sourceAddrHashDistributor)
	default:
		return new(roundRobinDistributor)
	}
}

type runners []*Runner

func (rs *runners) register(r *Runner) {
	*rs = append(*rs, r)
}

// ==================================== Implementation of Round-Robin distributor ====================================

type roundRobinDistributor struct {
	runners
	next atomic.Uint64
}

// SelectRunner returns the eligible runner based on Round-Robin algorithm,
// the counter is monotonic so concurrent callers are spread evenly.
func (d *roundRobinDistributor) SelectRunner(IOEvent, net.Addr) *Runner {
	if len(d.runners) == 0 {
		return nil
	}
	return d.runners[(d.next.Add(1)-1)%uint64(len(d.runners))]
}

// ================================= Implementation of Least-Connections distributor =================================

type leastConnectionsDistributor struct {
	runners
}

func (d *leastConnectionsDistributor) SelectRunner(IOEvent, net.Addr) (r *Runner) {
	if len(d.runners) == 0 {
		return nil
	}
	r = d.runners[0]
	minN := r.CountConnections()
	for _, v := range d.runners[1:] {
		if n := v.CountConnections(); n < minN {
			minN = n
			r = v
		}
	}
	return
}

// ======================================= Implementation of Hash distributor ========================================

type sourceAddrHashDistributor struct {
	runners
}

// hash converts a string to a unique hash code.
func (*sourceAddrHashDistributor) hash(s string) int {
	v := int(crc32.ChecksumIEEE([]byte(s)))
	if v >= 0 {
		return v
	}
	return -v
}

// SelectRunner returns the eligible runner by taking the remainder of a hash code as the index of the runner list.
func (d *sourceAddrHashDistributor) SelectRunner(_ IOEvent, remote net.Addr) *Runner {
	if len(d.runners) == 0 {
		return nil
	}
	if remote == nil {
		return d.runners[0]
	}
	return d.runners[d.hash(remote.String())%len(d.runners)]
}
