package relations

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"notionsync/internal/domain"
	"notionsync/internal/etl/sources"
)

// SchemaRetriever fetches one collection's property schema.
type SchemaRetriever interface {
	RetrieveCollection(ctx context.Context, collectionID string) (*sources.CollectionSchema, error)
}

// Discover derives relation declarations from the relation properties of
// every replicated collection. Collections whose schema cannot be read are
// logged and skipped.
func Discover(ctx context.Context, r SchemaRetriever, collections []domain.Collection, logger *zap.Logger) ([]domain.RelationSpec, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var specs []domain.RelationSpec
	for _, c := range collections {
		if !c.Replicate || c.Table == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return specs, err
		}
		schema, err := r.RetrieveCollection(ctx, c.ID)
		if err != nil {
			logger.Warn("relations: schema unavailable", zap.String("collection", c.ID), zap.Error(err))
			continue
		}
		for name, prop := range schema.Properties {
			if prop.Type != "relation" || prop.Relation == nil || prop.Relation.DatabaseID == "" {
				continue
			}
			specs = append(specs, domain.RelationSpec{
				OriginTable:         c.Table,
				FieldName:           name,
				RelatedCollectionID: prop.Relation.DatabaseID,
			})
		}
	}
	sortSpecs(specs)
	return Resolve(specs, collections), nil
}

// Resolve fills RelatedTable from the collection directory for specs that
// only name the related collection. Unknown ids are left unresolved.
func Resolve(specs []domain.RelationSpec, collections []domain.Collection) []domain.RelationSpec {
	tables := make(map[string]string, len(collections))
	for _, c := range collections {
		if c.Table != "" {
			tables[domain.NormalizeCollectionID(c.ID)] = c.Table
		}
	}
	out := make([]domain.RelationSpec, len(specs))
	for i, s := range specs {
		if s.RelatedTable == "" {
			s.RelatedTable = tables[domain.NormalizeCollectionID(s.RelatedCollectionID)]
		}
		out[i] = s
	}
	return out
}

func sortSpecs(specs []domain.RelationSpec) {
	sort.Slice(specs, func(i, j int) bool {
		if specs[i].OriginTable != specs[j].OriginTable {
			return specs[i].OriginTable < specs[j].OriginTable
		}
		return specs[i].FieldName < specs[j].FieldName
	})
}
