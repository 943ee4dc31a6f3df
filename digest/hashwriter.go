package digest

import (
	"hash"
	"io"
)

// VerifyStream hashes r and compares the result against each of the goal
// imprints. It returns true if every goal matches. An empty goal list always
// matches. The reader is not closed when finished.
func VerifyStream(r io.Reader, goals ...Imprint) (bool, error) {
	if len(goals) == 0 {
		return true, nil
	}
	var algs []Algorithm
	for _, g := range goals {
		algs = append(algs, g.Algorithm)
	}
	hw, err := NewHashWriterPlain(algs...)
	if err != nil {
		return false, err
	}
	_, err = io.Copy(hw, r)
	var result = true
	for _, g := range goals {
		_, ok := hw.Check(g)
		result = result && ok
	}
	return result, err
}

// A HashWriter wraps an io.Writer and also calculates the hashes of the
// bytes written for a set of algorithms.
type HashWriter struct {
	io.Writer // our io.MultiWriter
	hashes    map[Algorithm]hash.Hash
}

// NewHashWriter returns a HashWriter wrapping w. Each algorithm must be
// supported.
func NewHashWriter(w io.Writer, algs ...Algorithm) (*HashWriter, error) {
	hw := &HashWriter{hashes: make(map[Algorithm]hash.Hash)}
	var writers []io.Writer
	if w != nil {
		writers = append(writers, w)
	}
	for _, a := range algs {
		if _, ok := hw.hashes[a]; ok {
			continue
		}
		h, err := a.New()
		if err != nil {
			return nil, err
		}
		hw.hashes[a] = h
		writers = append(writers, h)
	}
	hw.Writer = io.MultiWriter(writers...)
	return hw, nil
}

// NewHashWriterPlain returns a HashWriter that does not wrap an output
// stream. It will just compute the hashes of the data written to it.
func NewHashWriterPlain(algs ...Algorithm) (*HashWriter, error) {
	return NewHashWriter(nil, algs...)
}

// Imprint returns the imprint for what has been written so far. The zero
// Imprint is returned if a is not being computed by this writer.
func (hw *HashWriter) Imprint(a Algorithm) Imprint {
	h, ok := hw.hashes[a]
	if !ok {
		return Imprint{}
	}
	return Imprint{Algorithm: a, Digest: h.Sum(nil)}
}

// Check returns the imprint for goal's algorithm and compares it with goal.
// A zero goal is treated as matching.
func (hw *HashWriter) Check(goal Imprint) (Imprint, bool) {
	computed := hw.Imprint(goal.Algorithm)
	ok := goal.IsZero() || computed.Equal(goal)
	return computed, ok
}
