package migrate

import (
	"database/sql"

	"spot-api/internal/logger"
)

// 表达式索引必须与 store 包中查询的表达式逐字一致，否则规划器不会使用
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS _spot_documents (
            collection TEXT NOT NULL,
            id TEXT NOT NULL,
            body JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (collection, id)
        )`,
	// RangeQuery: (body #>> '{location,geohash}') COLLATE "C"
	`CREATE INDEX IF NOT EXISTS idx_spot_documents_geohash
            ON _spot_documents(collection, ((body #>> '{location,geohash}') COLLATE "C"))`,
	// List(reports, "reportedAt"): ORDER BY body #> '{reportedAt}'
	`CREATE INDEX IF NOT EXISTS idx_spot_documents_reported
            ON _spot_documents(collection, (body #> '{reportedAt}'))`,
	`DROP INDEX IF EXISTS idx_spot_documents_expires`,
}

// 背景：首次运行自动创建文档表与 geohash 表达式索引，保障范围查询走索引
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构，并清理早期版本遗留的未使用索引
func EnsureSchema(db *sql.DB) error {
	for i, s := range schemaStatements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
