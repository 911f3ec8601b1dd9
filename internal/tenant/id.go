package tenant

import (
	"errors"
	"strings"
)

// ID is a validated tenant identifier. Only values produced by ParseID ever
// reach SQL, which is what keeps schema names out of injection territory.
type ID string

var ErrInvalidID = errors.New("tenant: invalid identifier")

const maxIDLen = 63 // postgres identifier limit

// ParseID normalizes a tenant hint (header value, path parameter or
// subdomain label) and validates it against the allow-list: lowercase
// alphanumeric plus underscore, first rune not a digit.
func ParseID(hint string) (ID, error) {
	s := strings.ToLower(strings.TrimSpace(hint))
	s = strings.ReplaceAll(s, "-", "_") // subdomain labels use dashes
	if s == "" || len(s) > maxIDLen {
		return "", ErrInvalidID
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return "", ErrInvalidID
			}
		default:
			return "", ErrInvalidID
		}
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }

// schemaName returns the quoted schema identifier for SQL text. The value is
// already restricted to [a-z0-9_], quoting is belt and braces.
func (id ID) schemaName() string {
	return `"t_` + string(id) + `"`
}
