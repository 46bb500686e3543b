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

package nio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panjf2000/nio/pkg/errors"
)

func TestParsePortRange(t *testing.T) {
	pr, err := ParsePortRange("9000:9010")
	require.NoError(t, err)
	assert.Equal(t, PortRange{9000, 9010}, pr)
	assert.Equal(t, 11, pr.Len())
	assert.Equal(t, "9000:9010", pr.String())

	pr, err = ParsePortRange(" 8080 ")
	require.NoError(t, err)
	assert.Equal(t, PortRange{8080, 8080}, pr)

	for _, s := range []string{"", "a:b", "10:1", "1:70000", "-1:5"} {
		_, err = ParsePortRange(s)
		assert.ErrorIs(t, err, errors.ErrInvalidPortRange, s)
	}
}

func TestNewPortRange(t *testing.T) {
	_, err := NewPortRange(5, 4)
	assert.ErrorIs(t, err, errors.ErrInvalidPortRange)
	pr, err := NewPortRange(0, 65535)
	require.NoError(t, err)
	assert.Equal(t, 65536, pr.Len())
}
