// Copyright 2025 The Xyn Authors
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

package queue

import (
	"math/rand"
	"time"
)

// RetryPolicy controls the delay before a failed run re-enters the queue.
type RetryPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy is exponential with full jitter: base 1s, cap 60s.
var DefaultRetryPolicy = RetryPolicy{
	Base:       time.Second,
	Cap:        60 * time.Second,
	Multiplier: 2,
}

// Delay returns the full-jitter backoff for a given attempt (1-based): a
// uniform draw from [0, min(cap, base*multiplier^(attempt-1))].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = DefaultRetryPolicy.Base
	}
	ceiling := p.Cap
	if ceiling <= 0 {
		ceiling = DefaultRetryPolicy.Cap
	}
	mult := p.Multiplier
	if mult <= 1 {
		mult = DefaultRetryPolicy.Multiplier
	}

	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= mult
		if d >= float64(ceiling) {
			d = float64(ceiling)
			break
		}
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
