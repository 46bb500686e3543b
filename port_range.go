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
	"fmt"
	"strconv"
	"strings"

	"github.com/panjf2000/nio/pkg/errors"
)

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Lower int
	Upper int
}

// NewPortRange validates and builds a range.
func NewPortRange(lower, upper int) (PortRange, error) {
	if lower < 0 || upper > 65535 || lower > upper {
		return PortRange{}, fmt.Errorf("%w: %d:%d", errors.ErrInvalidPortRange, lower, upper)
	}
	return PortRange{lower, upper}, nil
}

// ParsePortRange parses "lower:upper", a single port is accepted as well.
func ParsePortRange(s string) (PortRange, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		hi = lo
	}
	lower, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return PortRange{}, fmt.Errorf("%w: %q", errors.ErrInvalidPortRange, s)
	}
	upper, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return PortRange{}, fmt.Errorf("%w: %q", errors.ErrInvalidPortRange, s)
	}
	return NewPortRange(lower, upper)
}

// Len returns the number of ports in the range.
func (pr PortRange) Len() int { return pr.Upper - pr.Lower + 1 }

func (pr PortRange) String() string {
	return strconv.Itoa(pr.Lower) + ":" + strconv.Itoa(pr.Upper)
}
