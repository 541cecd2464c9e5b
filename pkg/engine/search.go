package engine

import (
	"context"
	"strings"

	"github.com/tesserahq/tessera/pkg/cache"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/store"
)

const searchLimitPerType = 20

// SearchResults groups global search hits by entity type.
type SearchResults struct {
	Query     string                `json:"query"`
	Assets    []*contracts.Asset    `json:"assets,omitempty"`
	Teams     []*contracts.Team     `json:"teams,omitempty"`
	Contracts []*contracts.Contract `json:"contracts,omitempty"`
}

// Search runs a substring match across assets, teams and contracts.
// types narrows the entity kinds ("assets", "teams", "contracts");
// empty means all. Results are cached briefly.
func (e *Engine) Search(ctx context.Context, query string, types []string) (*SearchResults, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, contracts.NewError(contracts.CodeValidation, "search query is required")
	}

	wanted := map[string]bool{}
	for _, t := range types {
		switch t {
		case "assets", "teams", "contracts":
			wanted[t] = true
		default:
			return nil, contracts.NewError(contracts.CodeValidation, "unknown search type %q", t)
		}
	}
	all := len(wanted) == 0

	key := cache.SearchKey(query + "|" + strings.Join(types, ","))
	var cached SearchResults
	if e.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	results := &SearchResults{Query: query}
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		if all || wanted["assets"] {
			if results.Assets, err = tx.SearchAssets(ctx, query, searchLimitPerType); err != nil {
				return err
			}
		}
		if all || wanted["teams"] {
			if results.Teams, err = tx.SearchTeams(ctx, query, searchLimitPerType); err != nil {
				return err
			}
		}
		if all || wanted["contracts"] {
			if results.Contracts, err = tx.SearchContracts(ctx, query, searchLimitPerType); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.cache.Set(ctx, key, results, cache.SearchTTL)
	return results, nil
}
