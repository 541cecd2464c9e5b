package engine

import (
	"context"
	"encoding/json"

	"github.com/tesserahq/tessera/pkg/cache"
	"github.com/tesserahq/tessera/pkg/contracts"
	"github.com/tesserahq/tessera/pkg/schema"
	"github.com/tesserahq/tessera/pkg/store"
	"github.com/tesserahq/tessera/pkg/versioning"
)

// ImpactedConsumer is one team reachable from the changed asset,
// annotated with the level at which the walk found it.
type ImpactedConsumer struct {
	TeamID string `json:"team_id"`
	Level  int    `json:"level"`
}

// ImpactedAsset is one downstream asset reachable from the root.
type ImpactedAsset struct {
	AssetID string `json:"asset_id"`
	FQN     string `json:"fqn"`
	Level   int    `json:"level"`
}

// ImpactReport is the result of an impact analysis.
type ImpactReport struct {
	ChangeType        versioning.ChangeType `json:"change_type"`
	BreakingChanges   []schema.ChangeRecord `json:"breaking_changes"`
	ImpactedConsumers []ImpactedConsumer    `json:"impacted_consumers"`
	ImpactedAssets    []ImpactedAsset       `json:"impacted_assets"`
	SafeToPublish     bool                  `json:"safe_to_publish"`
	TraversalDepth    int                   `json:"traversal_depth"`
}

// Impact diffs a proposed schema against the asset's active contract
// and walks the dependency graph breadth-first to enumerate affected
// consumers and downstream assets. Levels count from 1 at the root;
// the root asset itself is excluded from impacted_assets.
func (e *Engine) Impact(ctx context.Context, assetID string, proposedSchema json.RawMessage, depth int) (*ImpactReport, error) {
	if depth <= 0 {
		depth = e.cfg.DefaultDepth
	}
	if depth > e.cfg.MaxDepth {
		depth = e.cfg.MaxDepth
	}

	doc, err := schema.ParseDocument(proposedSchema)
	if err != nil {
		return nil, contracts.WrapError(contracts.CodeInvalidSchema, err)
	}

	report := &ImpactReport{
		BreakingChanges:   []schema.ChangeRecord{},
		ImpactedConsumers: []ImpactedConsumer{},
		ImpactedAssets:    []ImpactedAsset{},
		TraversalDepth:    depth,
	}

	err = e.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetAsset(ctx, assetID); err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", assetID)
			}
			return err
		}

		active, err := tx.ActiveContract(ctx, assetID)
		if err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				// Nothing published yet: any schema is safe to publish.
				report.ChangeType = versioning.ChangeMinor
				report.SafeToPublish = true
				return nil
			}
			return err
		}
		oldDoc, err := active.Schema()
		if err != nil {
			return err
		}
		diff := e.cachedDiff(ctx, oldDoc, doc)
		cls := schema.Classify(diff, active.CompatibilityMode)
		report.ChangeType = diff.ChangeType
		if cls.BreakingChanges != nil {
			report.BreakingChanges = cls.BreakingChanges
		}
		report.SafeToPublish = cls.Compatible

		return e.walkDownstream(ctx, tx, assetID, depth, report)
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

type walkEntry struct {
	assetID string
	level   int
}

// walkDownstream is an iterative BFS over "who depends on me" edges.
// The explicit queue keeps the depth limit precise and the visited set
// makes cycles terminate.
func (e *Engine) walkDownstream(ctx context.Context, tx *store.Tx, rootID string, depth int, report *ImpactReport) error {
	queue := []walkEntry{{assetID: rootID, level: 1}}
	visited := map[string]bool{rootID: true}
	seenTeams := map[string]bool{}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.assetID != rootID {
			asset, err := tx.GetAsset(ctx, current.assetID)
			if err != nil {
				if contracts.CodeOf(err) == contracts.CodeNotFound {
					// Soft-deleted assets stay in the edge table but
					// drop out of the walk.
					continue
				}
				return err
			}
			report.ImpactedAssets = append(report.ImpactedAssets, ImpactedAsset{
				AssetID: asset.ID,
				FQN:     asset.FQN,
				Level:   current.level,
			})
		}

		if err := e.collectConsumers(ctx, tx, current, seenTeams, report); err != nil {
			return err
		}

		if current.level >= depth {
			continue
		}
		dependents, err := tx.ListDependents(ctx, current.assetID)
		if err != nil {
			return err
		}
		for _, edge := range dependents {
			if visited[edge.DependentAssetID] {
				continue
			}
			visited[edge.DependentAssetID] = true
			queue = append(queue, walkEntry{assetID: edge.DependentAssetID, level: current.level + 1})
		}
	}
	return nil
}

func (e *Engine) collectConsumers(ctx context.Context, tx *store.Tx, entry walkEntry, seen map[string]bool, report *ImpactReport) error {
	active, err := tx.ActiveContract(ctx, entry.assetID)
	if err != nil {
		if contracts.CodeOf(err) == contracts.CodeNotFound {
			return nil
		}
		return err
	}
	registrations, err := tx.ActiveRegistrations(ctx, active.ID)
	if err != nil {
		return err
	}
	for _, reg := range registrations {
		if seen[reg.ConsumerTeamID] {
			continue
		}
		seen[reg.ConsumerTeamID] = true
		report.ImpactedConsumers = append(report.ImpactedConsumers, ImpactedConsumer{
			TeamID: reg.ConsumerTeamID,
			Level:  entry.level,
		})
	}
	return nil
}

// LineageNode is one asset in a lineage traversal.
type LineageNode struct {
	AssetID string `json:"asset_id"`
	FQN     string `json:"fqn"`
	Level   int    `json:"level"`
}

// Lineage is the upstream and downstream neighborhood of an asset. An
// asset with no dependency edges legitimately has empty lists.
type Lineage struct {
	AssetID    string        `json:"asset_id"`
	Upstream   []LineageNode `json:"upstream"`
	Downstream []LineageNode `json:"downstream"`
	Depth      int           `json:"depth"`
}

// AssetLineage walks the dependency graph in both directions up to
// depth levels. Results are cached per (asset, depth).
func (e *Engine) AssetLineage(ctx context.Context, assetID string, depth int) (*Lineage, error) {
	if depth <= 0 {
		depth = e.cfg.DefaultDepth
	}
	if depth > e.cfg.MaxDepth {
		depth = e.cfg.MaxDepth
	}

	key := cache.LineageKey(assetID, depth)
	var cached Lineage
	if e.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	lineage := &Lineage{
		AssetID:    assetID,
		Upstream:   []LineageNode{},
		Downstream: []LineageNode{},
		Depth:      depth,
	}
	err := e.store.View(ctx, func(tx *store.Tx) error {
		if _, err := tx.GetAsset(ctx, assetID); err != nil {
			if contracts.CodeOf(err) == contracts.CodeNotFound {
				return contracts.NewError(contracts.CodeAssetNotFound, "asset %s not found", assetID)
			}
			return err
		}
		var err error
		lineage.Downstream, err = e.walkLineage(ctx, tx, assetID, depth, downstreamEdges)
		if err != nil {
			return err
		}
		lineage.Upstream, err = e.walkLineage(ctx, tx, assetID, depth, upstreamEdges)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.cache.Set(ctx, key, lineage, cache.LineageTTL)
	return lineage, nil
}

func downstreamEdges(ctx context.Context, tx *store.Tx, assetID string) ([]string, error) {
	edges, err := tx.ListDependents(ctx, assetID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(edges))
	for i, edge := range edges {
		out[i] = edge.DependentAssetID
	}
	return out, nil
}

func upstreamEdges(ctx context.Context, tx *store.Tx, assetID string) ([]string, error) {
	edges, err := tx.ListDependencies(ctx, assetID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(edges))
	for i, edge := range edges {
		out[i] = edge.DependencyAssetID
	}
	return out, nil
}

func (e *Engine) walkLineage(ctx context.Context, tx *store.Tx, rootID string, depth int, next func(context.Context, *store.Tx, string) ([]string, error)) ([]LineageNode, error) {
	nodes := []LineageNode{}
	queue := []walkEntry{{assetID: rootID, level: 0}}
	visited := map[string]bool{rootID: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.assetID != rootID {
			asset, err := tx.GetAsset(ctx, current.assetID)
			if err != nil {
				if contracts.CodeOf(err) == contracts.CodeNotFound {
					continue
				}
				return nil, err
			}
			nodes = append(nodes, LineageNode{AssetID: asset.ID, FQN: asset.FQN, Level: current.level})
		}
		if current.level >= depth {
			continue
		}
		neighbors, err := next(ctx, tx, current.assetID)
		if err != nil {
			return nil, err
		}
		for _, id := range neighbors {
			if visited[id] {
				continue
			}
			visited[id] = true
			queue = append(queue, walkEntry{assetID: id, level: current.level + 1})
		}
	}
	return nodes, nil
}
