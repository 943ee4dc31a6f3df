package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/ndlib/sigbag/container"
	"github.com/ndlib/sigbag/repository"
)

// spool copies an upload into a temp file in s.TempDir, giving the reader
// random access without holding the archive in memory. The file is removed
// when closed.
func (s *RESTServer) spool(r io.Reader) (*spoolFile, int64, error) {
	f, err := os.CreateTemp(s.TempDir, "upload-*.zip")
	if err != nil {
		return nil, 0, err
	}
	sf := &spoolFile{File: f}
	size, err := io.Copy(f, r)
	if err != nil {
		sf.Close()
		return nil, 0, err
	}
	return sf, size, nil
}

type spoolFile struct {
	*os.File
}

func (f *spoolFile) Close() error {
	err := f.File.Close()
	if err2 := os.Remove(f.Name()); err == nil {
		err = err2
	}
	return err
}

// UploadResult is returned by a successful POST to /container/:id.
type UploadResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Created bool   `json:"created"`
}

// writeError picks a status code for err and writes it. Errors we do not
// expect are logged and sent to sentry.
func writeError(w http.ResponseWriter, id string, err error) {
	status := http.StatusInternalServerError
	switch errors.Cause(err) {
	case repository.ErrNoItem:
		status = http.StatusNotFound
	case repository.ErrBadID, repository.ErrNoChange:
		status = http.StatusBadRequest
	case repository.ErrExists, repository.ErrDamaged:
		status = http.StatusConflict
	case container.ErrDetached:
		status = http.StatusNotFound
	}
	if container.IsMergeError(err) {
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Printf("container %s: %s", id, err)
		raven.CaptureError(err, map[string]string{"id": id})
	}
	w.WriteHeader(status)
	fmt.Fprintln(w, err)
}

func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val) // ignore any error
}

// ListHandler handles GET requests to "/container/".
func (s *RESTServer) ListHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ids := []string{}
	for id := range s.Repository.List() {
		ids = append(ids, id)
	}
	writeJSON(w, 200, ids)
}

// ContainerHandler handles GET and HEAD requests to "/container/:id". The
// stored archive is sent as is. A "version" query parameter picks an older
// version.
func (s *RESTServer) ContainerHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	n := 0
	if v := r.FormValue("version"); v != "" {
		var err error
		n, err = strconv.Atoi(v)
		if err != nil || n <= 0 {
			w.WriteHeader(400)
			fmt.Fprintln(w, "Bad version")
			return
		}
	}
	rac, size, n, err := s.Repository.OpenRaw(id, n)
	if err != nil {
		writeError(w, id, err)
		return
	}
	defer rac.Close()
	w.Header().Set("Content-Type", container.MimeType)
	w.Header().Set("ETag", fmt.Sprintf(`"%d"`, n))
	w.Header().Set("X-Version", strconv.Itoa(n))
	name := fmt.Sprintf("%s-%04d.zip", id, n)
	http.ServeContent(w, r, name, time.Time{}, io.NewSectionReader(rac, 0, size))
}

// VersionsHandler handles GET requests to "/container/:id/versions".
func (s *RESTServer) VersionsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	vs, err := s.Repository.Versions(id)
	if err == nil && len(vs) == 0 {
		err = errors.Wrap(repository.ErrNoItem, id)
	}
	if err != nil {
		writeError(w, id, err)
		return
	}
	writeJSON(w, 200, vs)
}

// UploadHandler handles POST requests to "/container/:id". The body is a
// container archive. It is merged with the current version, or becomes
// the first version if there is none. An archive which cannot be read
// completely is refused.
func (s *RESTServer) UploadHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	body, size, err := s.spool(http.MaxBytesReader(w, r.Body, s.MaxUpload))
	if err != nil {
		var tooBig *http.MaxBytesError
		status := http.StatusInternalServerError
		if errors.As(err, &tooBig) {
			status = http.StatusRequestEntityTooLarge
		} else {
			log.Printf("upload to %s: %s", id, err)
		}
		w.WriteHeader(status)
		fmt.Fprintln(w, err)
		return
	}
	defer body.Close()
	c, err := s.Repository.Reader.Read(body, size)
	if err != nil {
		if c != nil {
			c.Close()
		}
		log.Printf("upload to %s by %s refused: %s", id, ps.ByName("username"), err)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, err)
		return
	}
	defer c.Close()
	n, err := s.Repository.Merge(id, c)
	if err != nil {
		writeError(w, id, err)
		return
	}
	log.Printf("upload to %s by %s saved as version %d", id, ps.ByName("username"), n)
	w.Header().Set("Location", "/container/"+id)
	status := http.StatusOK
	if n == 1 {
		status = http.StatusCreated
	}
	writeJSON(w, status, UploadResult{ID: id, Version: n, Created: n == 1})
}

// DeleteHandler handles DELETE requests to "/container/:id". The version
// to remove must be given with the "version" query parameter.
func (s *RESTServer) DeleteHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	n, err := strconv.Atoi(r.FormValue("version"))
	if err != nil || n <= 0 {
		w.WriteHeader(400)
		fmt.Fprintln(w, "Bad version")
		return
	}
	vs, err := s.Repository.Versions(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	found := false
	for _, v := range vs {
		found = found || v == n
	}
	if !found {
		writeError(w, id, errors.Wrapf(repository.ErrNoItem, "%s version %d", id, n))
		return
	}
	if err := s.Repository.Delete(id, n); err != nil {
		writeError(w, id, err)
		return
	}
	log.Printf("%s deleted %s version %d", ps.ByName("username"), id, n)
	w.WriteHeader(http.StatusNoContent)
}

// VerifyHandler handles GET requests to "/container/:id/verify". The report
// is JSON unless the "format" query parameter is "yaml". The status of the
// verification is also given in the X-Verify-Status header.
func (s *RESTServer) VerifyHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	v, n, err := s.Repository.Verify(id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	defer v.Close()
	report := v.Report()
	w.Header().Set("X-Verify-Status", report.Status.String())
	w.Header().Set("X-Version", strconv.Itoa(n))
	if strings.EqualFold(r.FormValue("format"), "yaml") {
		w.Header().Set("Content-Type", "application/yaml")
		err = report.WriteYAML(w)
	} else {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		err = report.WriteJSON(w)
	}
	if err != nil {
		log.Printf("verify %s: %s", id, err)
	}
}

// DocumentHandler handles GET requests to "/container/:id/document/*name".
func (s *RESTServer) DocumentHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	// the star parameter in httprouter returns the leading slash
	name := strings.TrimPrefix(ps.ByName("name"), "/")
	c, n, err := s.Repository.Open(id)
	if c != nil {
		defer c.Close()
	}
	if _, ok := err.(*container.ReadError); ok {
		// the document may still be readable
		err = nil
	}
	if err != nil {
		writeError(w, id, err)
		return
	}
	d, ok := c.Document(name)
	if !ok {
		w.WriteHeader(404)
		fmt.Fprintf(w, "No document %s\n", name)
		return
	}
	rc, err := d.Open()
	if err != nil {
		writeError(w, id, errors.Wrap(err, name))
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", d.MimeType())
	w.Header().Set("X-Version", strconv.Itoa(n))
	io.Copy(w, rc)
}
