package update

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// Dependency maps a recomputed entity to one dependent entity type. IDPaths are
// dotted lookups tried against the fetched raw input and then the event data.
type Dependency struct {
	Target  types.EntityType
	IDPaths []string
}

// DependencyTable lists the dependents of each entity type
type DependencyTable map[types.EntityType][]Dependency

// DefaultDependencies propagates NFT recomputes to the creator and collection
func DefaultDependencies() DependencyTable {
	return DependencyTable{
		types.EntityNFT: {
			{Target: types.EntityCreator, IDPaths: []string{"creator.id", "creator_id"}},
			{Target: types.EntityCollection, IDPaths: []string{"collection.id", "collection_id"}},
		},
	}
}

// DerivedEventType is the event type emitted to dependents of an entity type
func DerivedEventType(source types.EntityType) string {
	return fmt.Sprintf("%s_update", source)
}

// resolveIDs returns the distinct dependent ids found in the given sources
func (d Dependency) resolveIDs(sources ...map[string]interface{}) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(v interface{}) {
		switch id := v.(type) {
		case string:
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		case []interface{}:
			for _, item := range id {
				if s, ok := item.(string); ok && s != "" && !seen[s] {
					seen[s] = true
					ids = append(ids, s)
				}
			}
		}
	}

	for _, src := range sources {
		for _, path := range d.IDPaths {
			if v, ok := lookup(src, path); ok {
				add(v)
			}
		}
		if len(ids) > 0 {
			break
		}
	}
	return ids
}

func lookup(m map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = m
	for _, part := range strings.Split(path, ".") {
		var node map[string]interface{}
		switch v := current.(type) {
		case map[string]interface{}:
			node = v
		case types.RawEntityInput:
			node = v
		default:
			return nil, false
		}
		next, ok := node[part]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, current != nil
}
