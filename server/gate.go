package server

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// A gate limits how many requests may read whole archives at once. Each
// request holds one slot from entering until it leaves.
type gate chan struct{}

func newGate(n int) gate {
	return gate(make(chan struct{}, n))
}

// enter blocks until there is a free slot or ctx is done.
func (g gate) enter(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g gate) leave() {
	<-g
}

// gateWrapper makes handler wait for a slot in s.gate. Requests given up by
// the client while waiting get a 503.
func (s *RESTServer) gateWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := s.gate.enter(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		defer s.gate.leave()
		handler(w, r, ps)
	}
}
