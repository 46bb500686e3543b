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

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, lvl)

	lvl, err = ParseLevel("2")
	require.NoError(t, err)
	assert.Equal(t, ErrorLevel, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLocalFileLogger(t *testing.T) {
	_, _, err := CreateLoggerAsLocalFile("", InfoLevel)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "nio.log")
	logger, flush, err := CreateLoggerAsLocalFile(path, WarnLevel)
	require.NoError(t, err)
	logger.Infof("filtered out %d", 1)
	logger.Warnf("runner(%d) is slow", 3)
	require.NoError(t, flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[nio]")
	assert.Contains(t, string(data), "runner(3) is slow")
	assert.NotContains(t, string(data), "filtered out")
}

func TestDefaultLogger(t *testing.T) {
	prevLogger, prevFlusher := GetDefaultLogger(), GetDefaultFlusher()
	t.Cleanup(func() { SetDefaultLoggerAndFlusher(prevLogger, prevFlusher) })

	path := filepath.Join(t.TempDir(), "default.log")
	logger, flush, err := CreateLoggerAsLocalFile(path, DebugLevel)
	require.NoError(t, err)
	SetDefaultLoggerAndFlusher(logger, flush)
	assert.Equal(t, logger, GetDefaultLogger())

	Debugf("debug %s", "line")
	Errorf("error %s", "line")
	Cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line")
	assert.Contains(t, string(data), "error line")

	console, _ := NewConsoleLogger(InfoLevel)
	assert.NotNil(t, console)
	assert.NotEmpty(t, LogLevel())
}
