package lexical

import "fmt"

// Backend names accepted by New
const (
	BackendSubstring = "substring"
	BackendFTS       = "fts5"
	BackendBleve     = "bleve"
)

// New creates the named backend. store is only used by the fts5 backend.
func New(backend string, store TextSearcher) (Index, error) {
	switch backend {
	case BackendSubstring:
		return NewSubstringIndex(), nil
	case "", BackendFTS:
		if store == nil {
			return nil, fmt.Errorf("fts5 lexical index requires a store")
		}
		return NewFTSIndex(store), nil
	case BackendBleve:
		return NewBleveIndex()
	default:
		return nil, fmt.Errorf("unknown lexical backend %q", backend)
	}
}
