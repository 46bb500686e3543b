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
	"github.com/panjf2000/nio/pkg/streams"
)

type streamPairer interface {
	streamPair() (*streams.Reader, *streams.Writer)
}

// StreamReader returns the stream reader of c. A standalone connection routes every
// inbound byte to it, nil is returned for connections not created by nio.
func StreamReader(c Connection) *streams.Reader {
	if p, ok := c.(streamPairer); ok {
		r, _ := p.streamPair()
		return r
	}
	return nil
}

// StreamWriter returns the stream writer of c, flushes go through Connection.Write.
func StreamWriter(c Connection) *streams.Writer {
	if p, ok := c.(streamPairer); ok {
		_, w := p.streamPair()
		return w
	}
	return nil
}
