/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"fmt"
	"math/rand"
)

// Cell is one entry on the board. Primality is computed once at
// generation time and never changes afterwards.
type Cell struct {
	Value int
	Prime bool
}

// Grid is the ordered sequence of cells shown to every player for one
// round.
type Grid []Cell

// Values returns just the numbers, in cell order, for sending to
// players. Primality stays server-side.
func (g Grid) Values() []int {
	values := make([]int, len(g))
	for i, c := range g {
		values[i] = c.Value
	}
	return values
}

// IsPrime reports whether n is prime, by trial division up to the
// square root. Exact for the bounded values a grid can hold.
func IsPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n == 2 {
		return true
	}
	if n%2 == 0 {
		return false
	}
	for i := 3; i*i <= n; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// NewGrid builds a board of size cells with values drawn from
// [minValue, maxValue]. Between 40% and 60% of cells hold primes
// (always at least one prime and one non-prime). The same rng state
// always yields the same grid.
func NewGrid(size, minValue, maxValue int, rng *rand.Rand) (Grid, error) {
	if size < 2 {
		return nil, fmt.Errorf("%w: grid size %d is too small", ErrInvalidGridConfig, size)
	}
	if minValue > maxValue {
		return nil, fmt.Errorf("%w: min value %d exceeds max value %d", ErrInvalidGridConfig, minValue, maxValue)
	}

	var primes, others []int
	for v := minValue; v <= maxValue; v++ {
		if IsPrime(v) {
			primes = append(primes, v)
		} else {
			others = append(others, v)
		}
	}

	if len(primes) == 0 {
		return nil, fmt.Errorf("%w: no primes between %d and %d", ErrInvalidGridConfig, minValue, maxValue)
	}
	if len(others) == 0 {
		return nil, fmt.Errorf("%w: no non-primes between %d and %d", ErrInvalidGridConfig, minValue, maxValue)
	}

	low := size * 2 / 5
	high := size * 3 / 5
	if low < 1 {
		low = 1
	}
	if high > size-1 {
		high = size - 1
	}
	if high < low {
		high = low
	}
	numPrimes := low + rng.Intn(high-low+1)

	positions := rng.Perm(size)

	grid := make(Grid, size)
	for i, pos := range positions {
		if i < numPrimes {
			grid[pos] = Cell{Value: primes[rng.Intn(len(primes))], Prime: true}
		} else {
			grid[pos] = Cell{Value: others[rng.Intn(len(others))]}
		}
	}

	return grid, nil
}
