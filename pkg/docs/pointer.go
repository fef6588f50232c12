package docs

import (
	"strconv"

	"github.com/go-openapi/jsonpointer"

	"github.com/harisbotic/ustore/pkg/status"
)

// fieldTokens splits a field address into path tokens. An address
// starting with '/' is an RFC 6901 JSON Pointer (with ~0/~1 escapes);
// anything else names a single top-level key.
func fieldTokens(field string) ([]string, error) {
	if len(field) == 0 {
		return nil, nil
	}
	if field[0] != '/' {
		return []string{field}, nil
	}
	ptr, err := jsonpointer.New(field)
	if err != nil {
		return nil, status.Wrap(status.InvalidArgument, err, "field pointer")
	}
	return ptr.DecodedTokens(), nil
}

// getField resolves tokens against a tree. The second result is false
// when any step of the path is absent or of the wrong shape.
func getField(doc interface{}, tokens []string) (interface{}, bool) {
	cur := doc
	for _, tok := range tokens {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// setField replaces the sub-tree at tokens with val and returns the
// (possibly new) root. Missing intermediate objects are created when
// create is set; arrays are never grown implicitly.
func setField(doc interface{}, tokens []string, val interface{}, create bool) (interface{}, error) {
	if len(tokens) == 0 {
		return val, nil
	}
	if arr, ok := doc.([]interface{}); ok {
		idx, err := strconv.Atoi(tokens[0])
		if err != nil || idx < 0 || idx >= len(arr) {
			return nil, status.Newf(status.InvalidArgument, "bad array index %q", tokens[0])
		}
		sub, err := setField(arr[idx], tokens[1:], val, create)
		if err != nil {
			return nil, err
		}
		arr[idx] = sub
		return arr, nil
	}
	obj, ok := doc.(map[string]interface{})
	if !ok {
		// nil or a scalar standing where a container is addressed
		if !create {
			return nil, status.New(status.NotFound, "field path not found")
		}
		obj = map[string]interface{}{}
	}
	sub, err := setField(obj[tokens[0]], tokens[1:], val, create)
	if err != nil {
		return nil, err
	}
	obj[tokens[0]] = sub
	return obj, nil
}
