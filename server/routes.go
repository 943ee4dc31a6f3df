/*
Package server provides a REST API over a container repository.

	GET    /                               welcome
	GET    /container/                     list container ids
	GET    /container/:id                  download the archive (?version=n)
	HEAD   /container/:id
	POST   /container/:id                  upload an archive to create or merge
	DELETE /container/:id?version=n        remove one stored version
	GET    /container/:id/versions         list stored versions
	GET    /container/:id/verify           verification report (?format=yaml)
	GET    /container/:id/document/*name   one document of the current version

User tokens are passed in the X-Api-Key header.
*/
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/sigbag/repository"
)

// RESTServer holds the configuration for a sigbag REST API server.
//
// Set all the public fields and then call Run. Run will listen on the given
// address and handle requests. Do not change any fields after calling Run.
type RESTServer struct {
	// Address to listen on. Defaults to ":14000".
	Addr string

	// Repository holds the containers. Run will panic if it is nil.
	Repository *repository.Repository

	// Validator does authentication by decoding any user tokens
	// presented to the API. If this is nil then no authentication will be
	// done.
	Validator TokenDecoder

	// MaxUpload is the largest archive accepted by POST, in bytes.
	// Defaults to DefaultMaxUpload.
	MaxUpload int64

	// TempDir holds uploads while they are read. Empty means os.TempDir.
	TempDir string

	// MaxConcurrent limits the number of uploads and verifications running
	// at once. Defaults to DefaultMaxConcurrent.
	MaxConcurrent int

	server httpdown.Server // used to close our listening socket
	gate   gate
}

const (
	// DefaultMaxUpload is the upload limit when MaxUpload is not set.
	DefaultMaxUpload = 1 << 30

	DefaultMaxConcurrent = 4
)

// Run initializes the server. It then blocks listening for and handling
// http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting Sigbag Server version %s", Version)

	if s.Repository == nil {
		panic("No repository given. Repository is nil.")
	}
	if s.Addr == "" {
		s.Addr = ":14000"
	}
	log.Println("Listening on", s.Addr)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    s.Addr,
		Handler: s.Handler(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop will stop the server and return when all the open connections have
// finished and the socket is closed.
func (s *RESTServer) Stop() error {
	if s.server == nil {
		return nil
	}
	return s.server.Stop()
}

// Handler returns the routes of the API. Run uses it, and it may also be
// mounted in another server or used for testing.
func (s *RESTServer) Handler() http.Handler {
	if s.Validator == nil {
		log.Println("No Validator given")
		s.Validator = NewNobodyDecoder()
	}
	if s.MaxUpload == 0 {
		s.MaxUpload = DefaultMaxUpload
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = DefaultMaxConcurrent
	}
	s.gate = newGate(s.MaxConcurrent)

	var routes = []struct {
		method  string
		route   string
		role    Role // RoleUnknown means no API key is needed to access
		handler httprouter.Handle
	}{
		{"GET", "/container/", RoleRead, s.ListHandler},
		{"GET", "/container/:id", RoleRead, s.ContainerHandler},
		{"HEAD", "/container/:id", RoleRead, s.ContainerHandler},
		{"POST", "/container/:id", RoleWrite, s.gateWrapper(s.UploadHandler)},
		{"DELETE", "/container/:id", RoleAdmin, s.DeleteHandler},
		{"GET", "/container/:id/versions", RoleRead, s.VersionsHandler},
		{"GET", "/container/:id/verify", RoleRead, s.gateWrapper(s.VerifyHandler)},
		{"GET", "/container/:id/document/*name", RoleRead, s.DocumentHandler},

		// other
		{"GET", "/", RoleUnknown, WelcomeHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(s.authzWrapper(route.handler, route.role)))
	}
	return r
}

// authzWrapper returns a Handler which will first verify the user token as
// having at least the given Role. The user name is added as a parameter
// "username".
func (s *RESTServer) authzWrapper(handler httprouter.Handle, leastRole Role) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := r.Header.Get("X-Api-Key")
		user, role, err := s.Validator.TokenDecode(token)
		if err != nil {
			w.WriteHeader(500)
			fmt.Fprintln(w, err.Error())
			return
		}

		if role < leastRole {
			w.WriteHeader(401)
			fmt.Fprintln(w, "Forbidden")
			return
		}

		// replace any username given in the url
		for i := range ps {
			if ps[i].Key == "username" {
				ps[i].Value = user
				handler(w, r, ps)
				return
			}
		}
		ps = append(ps, httprouter.Param{Key: "username", Value: user})
		handler(w, r, ps)
	}
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}
