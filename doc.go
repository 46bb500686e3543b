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

/*
Package nio is a non-blocking TCP transport engine. It makes direct epoll and kqueue syscalls rather than
using the standard Go net package, multiplexes readiness events across a small pool of runners and routes
bytes through an ordered pipeline of filters before they reach user code.

A Transport is an explicit context object: it owns its runners, its connection registry, its buffer
allocator and its worker pool, several transports can live in one process and each of them can be stopped
and started again.

Inbound events (accept, connect, read, close) walk the filter chain forward, writes walk it backwards.
A filter returning a STOP action with a remainder suspends the chain, the remainder is kept in the
connection's pending-input slot and the chain resumes at the same filter once more bytes arrive.

Echo server built upon nio is shown below:

	package main

	import (
		"log"

		"github.com/panjf2000/nio"
	)

	func main() {
		chain := nio.NewFilterChainBuilder().Add(new(nio.EchoFilter)).Build()
		t := nio.NewTransport(nio.WithProcessor(chain))
		if _, err := t.Bind("tcp://:9000"); err != nil {
			log.Fatal(err)
		}
		if err := t.Start(); err != nil {
			log.Fatal(err)
		}
		select {}
	}

Standalone connections bypass the chain and are driven by a stream pair instead:

	f := t.Connect("127.0.0.1:9000", future.CompletionHandlerFunc[nio.Connection](
		func(c nio.Connection, err error) {
			if err == nil {
				c.ConfigureStandalone(true)
			}
		}))
	c, err := f.GetTimeout(time.Second)
	...
	w := nio.StreamWriter(c)
	_ = w.WriteInt32(42)
	_, _ = w.Flush().Wait()
	r := nio.StreamReader(c)
	if _, err = r.NotifyAvailable(4).Wait(); err == nil {
		v, _ := r.ReadInt32()
		...
	}
*/
package nio
