package index

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Incrementing gives out decimal indexes, counting up from the largest index
// of each kind seen when seeding.
type Incrementing struct {
	last [numKinds]int64
}

// NewIncrementing returns a provider continuing after the indexes in seeds.
// Every seed must have a decimal index.
func NewIncrementing(seeds Seeds) (*Incrementing, error) {
	p := &Incrementing{}
	for k, paths := range seeds {
		if k < 0 || k >= numKinds {
			continue
		}
		for _, s := range paths {
			n, err := parseDecimal(s)
			if err != nil {
				return nil, errors.Wrapf(err, "seeding %s index", k)
			}
			if n > p.last[k] {
				p.last[k] = n
			}
		}
	}
	return p, nil
}

// IncrementingFactory is a Factory for incrementing providers.
func IncrementingFactory(seeds Seeds) (Provider, error) {
	return NewIncrementing(seeds)
}

func parseDecimal(p string) (int64, error) {
	seg, err := Segment(p)
	if err != nil {
		return 0, err
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return 0, errors.Wrapf(ErrBadIndex, "%s is not decimal", p)
		}
	}
	n, err := strconv.ParseInt(seg, 10, 64)
	if err != nil || n == math.MaxInt64 {
		return 0, errors.Wrap(ErrIndexOverflow, p)
	}
	return n, nil
}

// Next returns the next decimal index for k.
func (p *Incrementing) Next(k Kind) (string, error) {
	if k < 0 || k >= numKinds {
		return "", errors.Errorf("unknown index kind %d", k)
	}
	if p.last[k] == math.MaxInt64 {
		return "", errors.Wrap(ErrIndexOverflow, k.String())
	}
	p.last[k]++
	return strconv.FormatInt(p.last[k], 10), nil
}

// Last returns the largest index of kind k given out or seeded so far.
func (p *Incrementing) Last(k Kind) int64 {
	return p.last[k]
}
