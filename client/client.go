// Package client talks to a sigbag server.
package client

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

// Exported errors
var (
	ErrNotFound       = errors.New("container not found")
	ErrNotAuthorized  = errors.New("access denied")
	ErrConflict       = errors.New("container conflict")
	ErrRejected       = errors.New("request rejected")
	ErrUnexpectedResp = errors.New("unexpected response code")
	ErrServerError    = errors.New("server error")
)

// A Connection represents a connection with a sigbag server.
// It can be shared between multiple goroutines.
type Connection struct {
	// The server this connection is to, e.g. "http://localhost:14000"
	HostURL string

	// Token is sent in the X-Api-Key header if not empty.
	Token string

	client *http.Client
}

// do performs an http request using our client with a timeout. The
// timeout is arbitrary, and is just there so we don't hang indefinitely
// should the server never close the connection.
func (c *Connection) do(req *http.Request) (*http.Response, error) {
	if c.Token != "" {
		req.Header.Add("X-Api-Key", c.Token)
	}
	if c.client == nil {
		c.client = &http.Client{
			Timeout: 10 * time.Minute, // arbitrary
		}
	}
	return c.client.Do(req)
}

// statusError turns a response which was not a success into an error. The
// body of the response is used as the error message.
func statusError(resp *http.Response, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	switch resp.StatusCode {
	case 400:
		return errors.Wrap(ErrRejected, msg)
	case 401:
		return ErrNotAuthorized
	case 404:
		return errors.Wrap(ErrNotFound, path)
	case 409:
		return errors.Wrap(ErrConflict, msg)
	}
	if resp.StatusCode >= 500 {
		return errors.Wrapf(ErrServerError, "%d: %s", resp.StatusCode, msg)
	}
	log.Printf("Received HTTP status %d for %s %s", resp.StatusCode, resp.Request.Method, path)
	return errors.Wrapf(ErrUnexpectedResp, "%d", resp.StatusCode)
}

// get performs a GET and returns the response if it has status 200.
func (c *Connection) get(path string) (*http.Response, error) {
	req, err := http.NewRequest("GET", c.HostURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		defer resp.Body.Close()
		return nil, statusError(resp, path)
	}
	return resp, nil
}

func (c *Connection) doJasonGet(path string) (*jason.Value, error) {
	resp, err := c.get(path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return jason.NewValueFromReader(resp.Body)
}

func containerPath(id string) string {
	return "/container/" + url.PathEscape(id)
}

// List returns the ids of every container on the server.
func (c *Connection) List() ([]string, error) {
	v, err := c.doJasonGet("/container/")
	if err != nil {
		return nil, err
	}
	vs, err := v.Array()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, x := range vs {
		s, err := x.String()
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// Versions returns the stored versions of a container, smallest first.
func (c *Connection) Versions(id string) ([]int, error) {
	v, err := c.doJasonGet(containerPath(id) + "/versions")
	if err != nil {
		return nil, err
	}
	vs, err := v.Array()
	if err != nil {
		return nil, err
	}
	var result []int
	for _, x := range vs {
		n, err := x.Int64()
		if err != nil {
			return nil, err
		}
		result = append(result, int(n))
	}
	return result, nil
}

// Download copies the archive of the given version of a container to w. A
// version of 0 means the current one. The version downloaded is returned.
func (c *Connection) Download(w io.Writer, id string, version int) (int, error) {
	path := containerPath(id)
	if version > 0 {
		path += "?version=" + strconv.Itoa(version)
	}
	resp, err := c.get(path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, _ := strconv.Atoi(resp.Header.Get("X-Version"))
	_, err = io.Copy(w, resp.Body)
	return n, err
}

// Document copies one document of the current version of a container to w.
// The document's mime type is returned.
func (c *Connection) Document(w io.Writer, id, name string) (string, error) {
	resp, err := c.get(containerPath(id) + "/document/" + name)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return resp.Header.Get("Content-Type"), err
}

// UploadResult describes the version made by an upload.
type UploadResult struct {
	Version int
	Created bool
}

// Upload sends a container archive to the server. It is merged with the
// current version of id, or becomes the first version. A clash with the
// current version gives an ErrConflict.
func (c *Connection) Upload(id string, archive io.Reader) (UploadResult, error) {
	var result UploadResult
	path := containerPath(id)
	req, err := http.NewRequest("POST", c.HostURL+path, archive)
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", "application/x-sigbag")
	resp, err := c.do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return result, statusError(resp, path)
	}
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return result, err
	}
	n, err := v.GetInt64("version")
	if err != nil {
		return result, err
	}
	result.Version = int(n)
	result.Created, _ = v.GetBoolean("created")
	return result, nil
}

// Delete removes one version of a container.
func (c *Connection) Delete(id string, version int) error {
	path := containerPath(id) + "?version=" + strconv.Itoa(version)
	req, err := http.NewRequest("DELETE", c.HostURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 204 {
		return statusError(resp, path)
	}
	return nil
}

// A Report is the outcome of verifying a container on the server.
type Report struct {
	Policy   string
	Status   string
	Results  []Result // results of container rules
	Contents []ContentReport
}

// ContentReport holds the results for one signature content.
type ContentReport struct {
	Manifest string
	Status   string
	Results  []Result
}

// Result is one rule result.
type Result struct {
	Status  string
	Rule    string
	Element string
	Message string
}

// Problems returns every result which is neither OK nor ignored.
func (r *Report) Problems() []Result {
	var result []Result
	all := r.Results
	for _, cr := range r.Contents {
		all = append(all, cr.Results...)
	}
	for _, x := range all {
		if x.Status != "OK" && x.Status != "IGNORED" {
			result = append(result, x)
		}
	}
	return result
}

func (r Result) String() string {
	s := fmt.Sprintf("%s %s", r.Status, r.Rule)
	if r.Element != "" {
		s += " " + r.Element
	}
	if r.Message != "" {
		s += ": " + r.Message
	}
	return s
}

// Verify asks the server to verify the current version of a container.
func (c *Connection) Verify(id string) (*Report, error) {
	v, err := c.doJasonGet(containerPath(id) + "/verify")
	if err != nil {
		return nil, err
	}
	obj, err := v.Object()
	if err != nil {
		return nil, err
	}
	report := &Report{}
	report.Policy, _ = obj.GetString("policy")
	report.Status, err = obj.GetString("status")
	if err != nil {
		return nil, err
	}
	if rs, err := obj.GetObjectArray("results"); err == nil {
		report.Results = decodeResults(rs)
	}
	contents, err := obj.GetObjectArray("contents")
	if err != nil {
		return nil, err
	}
	for _, x := range contents {
		var cr ContentReport
		cr.Manifest, _ = x.GetString("manifest")
		cr.Status, _ = x.GetString("status")
		if rs, err := x.GetObjectArray("results"); err == nil {
			cr.Results = decodeResults(rs)
		}
		report.Contents = append(report.Contents, cr)
	}
	return report, nil
}

func decodeResults(rs []*jason.Object) []Result {
	var result []Result
	for _, x := range rs {
		var r Result
		r.Status, _ = x.GetString("status")
		r.Rule, _ = x.GetString("rule")
		r.Element, _ = x.GetString("element")
		r.Message, _ = x.GetString("message")
		result = append(result, r)
	}
	return result
}
