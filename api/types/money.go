/*
 * Aircover
 * Copyright (C) 2025  Aircover, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package types

import (
	"math/big"

	"github.com/gravitational/trace"
)

// ParseAmount parses a fixed-point decimal amount carried as a string
// (the wire and storage representation for all monetary values) and
// requires it to be strictly positive.
func ParseAmount(s string) (*big.Rat, error) {
	if s == "" {
		return nil, trace.BadParameter("amount is empty")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, trace.BadParameter("amount %q is not a decimal number", s)
	}
	if r.Sign() <= 0 {
		return nil, trace.BadParameter("amount %q is not positive", s)
	}
	return r, nil
}

// AddAmounts sums two decimal amount strings, returning the result in
// its minimal decimal form.
func AddAmounts(a, b string) (string, error) {
	ra, err := ParseAmount(a)
	if err != nil {
		return "", trace.Wrap(err)
	}
	rb, err := ParseAmount(b)
	if err != nil {
		return "", trace.Wrap(err)
	}
	sum := new(big.Rat).Add(ra, rb)
	// amounts are fixed-point with at most 2 fractional digits in
	// practice; render without trailing zeros
	out := sum.FloatString(2)
	return trimAmount(out), nil
}

func trimAmount(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}
