package storage

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/dshills/chunkrag/pkg/types"
)

// Where is a conjunction of metadata equalities
type Where map[string]string

// filterColumns maps filterable metadata keys to chunk columns
var filterColumns = map[string]string{
	types.MetaLanguage: "c.language",
	types.MetaType:     "c.type",
	types.MetaName:     "c.name",
	types.MetaFilepath: "c.filepath",
}

// Validate rejects keys that cannot be filtered on
func (w Where) Validate() error {
	for k := range w {
		if _, ok := filterColumns[k]; !ok {
			return fmt.Errorf("%w: unsupported field %q (want one of %s)",
				ErrInvalidFilter, k, strings.Join(FilterKeys(), ", "))
		}
	}
	return nil
}

// Matches reports whether flat metadata satisfies every equality
func (w Where) Matches(metadata map[string]string) bool {
	for k, v := range w {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// sqlizer turns the clause into a squirrel expression over the chunk columns
func (w Where) sqlizer() (sq.Sqlizer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	eq := sq.Eq{}
	for k, v := range w {
		eq[filterColumns[k]] = v
	}
	return eq, nil
}

// FilterKeys lists the metadata keys accepted by Where
func FilterKeys() []string {
	keys := make([]string, 0, len(filterColumns))
	for k := range filterColumns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
