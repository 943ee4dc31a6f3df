package server

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// A TokenDecoder validates and decodes user tokens passed into the web API. If
// the given token is not valid, for whatever reason, the user "" with a role of
// RoleUnknown is returned. An error is returned only if there is some kind of error doing
// the lookup and the ultimate status of the token is unknown.
type TokenDecoder interface {
	TokenDecode(token string) (user string, role Role, err error)
}

// Role is what a user may do. Each role includes the ones before it.
type Role int

const (
	RoleUnknown Role = iota
	RoleRead
	RoleWrite
	RoleAdmin
)

func atoRole(s string) Role {
	switch strings.ToLower(s) {
	case "read":
		return RoleRead
	case "write":
		return RoleWrite
	case "admin":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	case RoleAdmin:
		return "admin"
	}
	return "unknown"
}

// NewNobodyDecoder creates a TokenDecoder that for every possible token
// returns a user named "nobody" with the Admin role.
func NewNobodyDecoder() TokenDecoder {
	return nobodyDecoder{}
}

type nobodyDecoder struct{}

func (nobodyDecoder) TokenDecode(token string) (string, Role, error) {
	return "nobody", RoleAdmin, nil
}

// NewListDecoder reads a list of users from r. Each line has the form
//
//	<user name>  <role>  <token>
//
// The fields are separated by whitespace, so neither the user name nor
// the token may contain spaces. The role is one of "Read", "Write" or
// "Admin" (case insensitive). Empty lines and lines beginning with a hash
// '#' are skipped. Any other line is an error, as is a token given twice.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	users := make(listDecoder)
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		pieces := strings.Fields(scanner.Text())
		if len(pieces) == 0 || pieces[0][0] == '#' {
			continue
		}
		if len(pieces) != 3 {
			return nil, errors.Errorf("line %d: expected 3 fields, got %d", lineno, len(pieces))
		}
		role := atoRole(pieces[1])
		if role == RoleUnknown {
			return nil, errors.Errorf("line %d: unknown role %q", lineno, pieces[1])
		}
		if _, ok := users[pieces[2]]; ok {
			return nil, errors.Errorf("line %d: duplicate token", lineno)
		}
		users[pieces[2]] = userEntry{user: pieces[0], role: role}
	}
	return users, scanner.Err()
}

// NewListDecoderFile is a convenience function that reads the contents of
// the given file into a ListDecoder.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := NewListDecoder(f)
	return d, errors.Wrap(err, fname)
}

type userEntry struct {
	user string
	role Role
}

// listDecoder maps tokens to users.
type listDecoder map[string]userEntry

func (ld listDecoder) TokenDecode(token string) (string, Role, error) {
	if token == "" {
		return "", RoleUnknown, nil
	}
	u, ok := ld[token]
	if !ok {
		return "", RoleUnknown, nil
	}
	return u.user, u.role, nil
}
