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
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panjf2000/nio/pkg/errors"
	"github.com/panjf2000/nio/pkg/logging"
	"github.com/panjf2000/nio/pkg/memory"
)

// warnRecorder keeps the warnings and forwards everything else to the default logger.
type warnRecorder struct {
	logging.Logger

	mu    sync.Mutex
	warns []string
}

func (l *warnRecorder) Warnf(format string, args ...interface{}) {
	l.mu.Lock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *warnRecorder) find(substr string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if strings.Contains(w, substr) {
			return w, true
		}
	}
	return "", false
}

func TestEchoFilterLogsRejectedWrites(t *testing.T) {
	logger := &warnRecorder{Logger: logging.GetDefaultLogger()}
	chain := NewFilterChainBuilder().Add(new(EchoFilter)).Build()
	tr := NewTransport(
		WithProcessor(chain),
		WithAllocator(memory.NewHeapAllocator()),
		WithMaxPendingBytesPerConnection(0),
		WithLogger(logger))
	c := newConn(tr, -1, nil, nil)

	chain.fireRead(c, inbound("first"))
	assert.Equal(t, len("first"), c.PendingBytes())
	_, found := logger.find("failed to echo")
	assert.False(t, found)

	chain.fireRead(c, inbound("second"))
	assert.Equal(t, len("first"), c.PendingBytes())
	w, found := logger.find("failed to echo")
	require.True(t, found)
	assert.Contains(t, w, errors.ErrBackpressure.Error())
}
