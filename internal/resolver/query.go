package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// Method selects the representation a request is answered with
type Method string

const (
	MethodURL  Method = "url"
	MethodAttr Method = "attr"
	MethodList Method = "list"
	MethodDesc Method = "desc"
)

// ErrInvalidID is returned when the id parameter is not an integer
var ErrInvalidID = errors.New("invalid id")

// ParseMethod maps the method parameter to a Method. Anything that is not
// attr, list or desc is answered as url.
func ParseMethod(s string) Method {
	switch Method(s) {
	case MethodAttr, MethodList, MethodDesc:
		return Method(s)
	default:
		return MethodURL
	}
}

// Query holds the request parameters that select an entity and a method
type Query struct {
	Method   Method
	Pickcode string
	ID       int64
	HasID    bool
	Path     string
}

// ParseQuery reads a Query from the request query string. urlPath is the
// request path, used when no path parameter is given.
func ParseQuery(values url.Values, urlPath string) (Query, error) {
	q := Query{
		Method:   ParseMethod(values.Get("method")),
		Pickcode: values.Get("pickcode"),
		Path:     values.Get("path"),
	}

	if raw := values.Get("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("%w: %q", ErrInvalidID, raw)
		}
		q.ID = id
		q.HasID = true
	}

	if q.Path == "" {
		q.Path = urlPath
	}
	if q.Path == "" {
		q.Path = "/"
	}

	return q, nil
}
