package milvus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"finqa-api/internal/config"
)

const (
	// CollectionCatalogTables 数据表目录向量集合，主键为目录 position
	CollectionCatalogTables = "catalog_tables"

	FieldPosition = "position"
	FieldVector   = "vector"

	IndexTypeFlat    = "FLAT"
	IndexTypeIVFFlat = "IVF_FLAT"
	IndexTypeHNSW    = "HNSW"
)

// CatalogSchema 目录向量集合 Schema
func CatalogSchema(collection string, dim int, fingerprint string) *entity.Schema {
	return &entity.Schema{
		CollectionName: collection,
		Description:    catalogDescription(fingerprint),
		Fields: []*entity.Field{
			{
				Name:       FieldPosition,
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     FieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dim),
				},
			},
		},
	}
}

// indexSpec 索引与对应的检索参数，度量固定为 L2（Milvus 返回平方距离）
type indexSpec struct {
	index  entity.Index
	search entity.SearchParam
}

func newIndexSpec(cfg *config.MilvusConfig) (*indexSpec, error) {
	switch strings.ToUpper(strings.TrimSpace(cfg.IndexType)) {
	case "", IndexTypeFlat:
		idx, err := entity.NewIndexFlat(entity.L2)
		if err != nil {
			return nil, err
		}
		sp, err := entity.NewIndexFlatSearchParam()
		if err != nil {
			return nil, err
		}
		return &indexSpec{index: idx, search: sp}, nil
	case IndexTypeIVFFlat:
		idx, err := entity.NewIndexIvfFlat(entity.L2, orDefault(cfg.IVFNList, 128))
		if err != nil {
			return nil, err
		}
		sp, err := entity.NewIndexIvfFlatSearchParam(orDefault(cfg.IVFNProbe, 16))
		if err != nil {
			return nil, err
		}
		return &indexSpec{index: idx, search: sp}, nil
	case IndexTypeHNSW:
		idx, err := entity.NewIndexHNSW(entity.L2, orDefault(cfg.HNSWM, 16), orDefault(cfg.HNSWEfConstruction, 200))
		if err != nil {
			return nil, err
		}
		sp, err := entity.NewIndexHNSWSearchParam(orDefault(cfg.HNSWEf, 128))
		if err != nil {
			return nil, err
		}
		return &indexSpec{index: idx, search: sp}, nil
	default:
		return nil, fmt.Errorf("unsupported milvus index type: %q", cfg.IndexType)
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

const fingerprintMarker = "catalog_fingerprint="

// catalogDescription 集合描述中记录构建时的目录指纹
func catalogDescription(fingerprint string) string {
	return "Catalog table representations for similarity retrieval; " + fingerprintMarker + fingerprint
}

// fingerprintFromDescription 读取集合描述中的目录指纹，缺失时返回空串
func fingerprintFromDescription(desc string) string {
	i := strings.LastIndex(desc, fingerprintMarker)
	if i < 0 {
		return ""
	}
	fp := desc[i+len(fingerprintMarker):]
	if j := strings.IndexAny(fp, " ;"); j >= 0 {
		fp = fp[:j]
	}
	return fp
}
