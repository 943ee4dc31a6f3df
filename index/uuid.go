package index

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// UUID gives out random version 4 UUIDs. It keeps no counters; seeding only
// checks that the existing paths are UUID indexed.
type UUID struct{}

// NewUUID checks every seed has a UUID index.
func NewUUID(seeds Seeds) (*UUID, error) {
	for k, paths := range seeds {
		for _, p := range paths {
			seg, err := Segment(p)
			if err != nil {
				return nil, errors.Wrapf(err, "seeding %s index", k)
			}
			// uuid.Parse also accepts the urn and braced forms
			if len(seg) != 36 {
				return nil, errors.Wrapf(ErrBadIndex, "%s is not a uuid", p)
			}
			if _, err := uuid.Parse(seg); err != nil {
				return nil, errors.Wrapf(ErrBadIndex, "%s is not a uuid", p)
			}
		}
	}
	return &UUID{}, nil
}

// UUIDFactory is a Factory for UUID providers.
func UUIDFactory(seeds Seeds) (Provider, error) {
	return NewUUID(seeds)
}

// Next returns a new random UUID.
func (*UUID) Next(k Kind) (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
