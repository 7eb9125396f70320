package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"spot-api/internal/logger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres: 基于 JSONB 单表的文档库实现，持有连接池
// 表结构见 migrate.EnsureSchema：_spot_documents(collection, id, body, updated_at)
type Postgres struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &Postgres{db: db}, nil
}

// Close: 关闭数据库连接
func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) DB() *sql.DB { return s.db }

// pathLiteral：点号路径转为 '{a,b}' 字面量；仅允许字母数字与下划线，拼入 SQL 以便命中表达式索引
func pathLiteral(p string) (string, error) {
	parts := splitPath(p)
	for _, x := range parts {
		if x == "" {
			return "", fmt.Errorf("bad field path %q", p)
		}
		for _, c := range x {
			if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
				return "", fmt.Errorf("bad field path %q", p)
			}
		}
	}
	return "'{" + strings.Join(parts, ",") + "}'", nil
}

func scanDocs(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		var d Document
		if err := json.Unmarshal(b, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// 文档注释：按排序键的闭区间范围查询
// 背景：对应文档库 orderBy(key).startAt(start).endAt(end).limit(n)；geohash 键有表达式索引。
// 约束：按键升序返回，键相同时按 id 保证稳定。
func (s *Postgres) RangeQuery(ctx context.Context, collection, orderKey, start, end string, limit int) ([]Document, error) {
	lit, err := pathLiteral(orderKey)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	// 按字节序比较，"~" 才能作为区间上界哨兵
	key := `(body #>> ` + lit + `) COLLATE "C"`
	q := `SELECT body FROM _spot_documents
        WHERE collection=$1 AND ` + key + ` >= $2 AND ` + key + ` <= $3
        ORDER BY ` + key + ` ASC, id ASC LIMIT $4`
	rows, err := s.db.QueryContext(ctx, q, collection, start, end, limit)
	if err != nil {
		return nil, err
	}
	docs, err := scanDocs(rows)
	logger.L().Debug("db_range_query", "collection", collection, "start", start, "end", end, "count", len(docs))
	return docs, err
}

func (s *Postgres) GetByID(ctx context.Context, collection, id string) (Document, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM _spot_documents WHERE collection=$1 AND id=$2`, collection, id).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Postgres) Put(ctx context.Context, collection string, doc Document) (string, error) {
	d := clone(doc)
	if d == nil {
		return "", fmt.Errorf("put %s: document not encodable", collection)
	}
	id, _ := d["id"].(string)
	if id == "" {
		id = uuid.NewString()
		d["id"] = id
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO _spot_documents(collection, id, body)
        VALUES($1,$2,$3::jsonb)
        ON CONFLICT (collection, id) DO UPDATE SET body=EXCLUDED.body, updated_at=now()`, collection, id, string(b))
	if err != nil {
		return "", err
	}
	return id, nil
}

// ensureParents：jsonb_set 只会创建末级键，先补齐中间对象
func ensureParents(ctx context.Context, tx *sql.Tx, collection, id string, path []string) error {
	for i := 1; i < len(path); i++ {
		_, err := tx.ExecContext(ctx, `UPDATE _spot_documents
            SET body = jsonb_set(body, $3::text[], COALESCE(body #> $3::text[], '{}'::jsonb), true)
            WHERE collection=$1 AND id=$2`, collection, id, pq.Array(path[:i]))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for p, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		path := splitPath(p)
		if err := ensureParents(ctx, tx, collection, id, path); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE _spot_documents
            SET body = jsonb_set(body, $3::text[], $4::jsonb, true), updated_at=now()
            WHERE collection=$1 AND id=$2`, collection, id, pq.Array(path), string(b))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	return tx.Commit()
}

// AppendToArrayField：与 arrayUnion 一致，数组中已存在完全相等的元素时不追加
func (s *Postgres) AppendToArrayField(ctx context.Context, collection, id, field string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	path := pq.Array(splitPath(field))
	res, err := s.db.ExecContext(ctx, `UPDATE _spot_documents
        SET body = jsonb_set(body, $3::text[], COALESCE(body #> $3::text[], '[]'::jsonb) || jsonb_build_array($4::jsonb), true),
            updated_at = now()
        WHERE collection=$1 AND id=$2
          AND NOT EXISTS (
            SELECT 1 FROM jsonb_array_elements(COALESCE(body #> $3::text[], '[]'::jsonb)) e WHERE e = $4::jsonb
          )`, collection, id, path, string(b))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetByID(ctx, collection, id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromArrayField：移除所有与 value 完全相等的元素（jsonb 相等）；无匹配时静默
func (s *Postgres) RemoveFromArrayField(ctx context.Context, collection, id, field string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	path := pq.Array(splitPath(field))
	res, err := s.db.ExecContext(ctx, `UPDATE _spot_documents
        SET body = jsonb_set(body, $3::text[], COALESCE(
                (SELECT jsonb_agg(e) FROM jsonb_array_elements(COALESCE(body #> $3::text[], '[]'::jsonb)) e WHERE e <> $4::jsonb),
                '[]'::jsonb), true),
            updated_at = now()
        WHERE collection=$1 AND id=$2`, collection, id, path, string(b))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// 文档注释：按元素 id 原地修改数组字段
// 背景：SELECT ... FOR UPDATE 锁住该行后在内存中定位元素，再整体写回；
// 并发的 AppendToArrayField 会等待行锁，提交后基于新数组追加，不会丢失。
// 返回：命中的元素；文档不存在返回 ErrNotFound，元素不存在 ok=false 且不写回。
func (s *Postgres) editElementLocked(ctx context.Context, collection, id, field, elemID string, patch map[string]any, remove bool) (Document, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()
	var b []byte
	err = tx.QueryRowContext(ctx, `SELECT body FROM _spot_documents WHERE collection=$1 AND id=$2 FOR UPDATE`, collection, id).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, false, err
	}
	elem, found, err := editElementByID(d, field, elemID, patch, remove)
	if err != nil || !found {
		return nil, found, err
	}
	out, err := json.Marshal(d)
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE _spot_documents SET body=$3::jsonb, updated_at=now()
        WHERE collection=$1 AND id=$2`, collection, id, string(out)); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	logger.L().Debug("db_array_element_edit", "collection", collection, "id", id, "field", field, "elem", elemID, "remove", remove)
	return elem, true, nil
}

func (s *Postgres) PatchArrayElementByID(ctx context.Context, collection, id, field, elemID string, patch map[string]any) (Document, bool, error) {
	return s.editElementLocked(ctx, collection, id, field, elemID, patch, false)
}

func (s *Postgres) RemoveArrayElementByID(ctx context.Context, collection, id, field, elemID string) (bool, error) {
	_, ok, err := s.editElementLocked(ctx, collection, id, field, elemID, nil, true)
	return ok, err
}

func (s *Postgres) List(ctx context.Context, collection, orderKey string, desc bool, limit int) ([]Document, error) {
	lit, err := pathLiteral(orderKey)
	if err != nil {
		return nil, err
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM _spot_documents WHERE collection=$1
        ORDER BY body #> `+lit+` `+dir+`, id ASC LIMIT $2`, collection, limit)
	if err != nil {
		return nil, err
	}
	return scanDocs(rows)
}

// 文档注释：原子自增数值字段
// 背景：单条 UPDATE ... RETURNING 完成读改写，避免并发举报者基于旧快照覆盖计数。
// 返回：自增后的值；文档不存在返回 ErrNotFound。
func (s *Postgres) IncrementField(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	path := splitPath(field)
	if err := ensureParents(ctx, tx, collection, id, path); err != nil {
		return 0, err
	}
	var n int64
	err = tx.QueryRowContext(ctx, `UPDATE _spot_documents
        SET body = jsonb_set(body, $3::text[], to_jsonb(COALESCE((body #>> $3::text[])::bigint, 0) + $4::bigint), true),
            updated_at = now()
        WHERE collection=$1 AND id=$2
        RETURNING (body #>> $3::text[])::bigint`, collection, id, pq.Array(path), delta).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	logger.L().Debug("db_increment", "collection", collection, "id", id, "field", field, "value", n)
	return n, nil
}
