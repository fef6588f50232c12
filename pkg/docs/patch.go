package docs

import (
	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/harisbotic/ustore/pkg/status"
)

var emptyObject = []byte("{}")

// applyPatch applies a JSON-Patch mutation to the stored document, or
// to its addressed sub-tree. An absent document patches an empty
// object. The patch itself already arrived parsed; it is re-rendered to
// JSON because the patch engine works on JSON text.
func applyPatch(base, patch interface{}, field []byte) (interface{}, error) {
	patchJSON, err := dumpAny(patch, JSON)
	if err != nil {
		return nil, err
	}
	decoded, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, status.Wrap(status.ParseFailed, err, "json-patch")
	}
	return mutateAt(base, field, func(target interface{}) (interface{}, error) {
		targetJSON, err := marshalOrEmpty(target)
		if err != nil {
			return nil, err
		}
		out, err := decoded.Apply(targetJSON)
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "apply patch")
		}
		return parseAny(out, JSON)
	})
}

// applyMerge deep-merges the input object into the stored document (or
// its addressed sub-tree) per RFC 7386.
func applyMerge(base, input interface{}, field []byte) (interface{}, error) {
	mergeJSON, err := dumpAny(input, JSON)
	if err != nil {
		return nil, err
	}
	return mutateAt(base, field, func(target interface{}) (interface{}, error) {
		targetJSON, err := marshalOrEmpty(target)
		if err != nil {
			return nil, err
		}
		out, err := jsonpatch.MergePatch(targetJSON, mergeJSON)
		if err != nil {
			return nil, status.Wrap(status.ParseFailed, err, "merge patch")
		}
		return parseAny(out, JSON)
	})
}

// mutateAt runs fn against the whole document or the addressed
// sub-tree, writing the result back into the tree.
func mutateAt(base interface{}, field []byte, fn func(interface{}) (interface{}, error)) (interface{}, error) {
	if len(field) == 0 {
		return fn(base)
	}
	tokens, err := fieldTokens(string(field))
	if err != nil {
		return nil, err
	}
	target, _ := getField(base, tokens)
	mutated, err := fn(target)
	if err != nil {
		return nil, err
	}
	return setField(base, tokens, mutated, true)
}

func marshalOrEmpty(v interface{}) ([]byte, error) {
	if v == nil {
		return emptyObject, nil
	}
	return dumpAny(v, JSON)
}
