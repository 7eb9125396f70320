package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// 文档注释：内存文档库
// 背景：测试与本地开发用的替身实现，语义与 Postgres 实现对齐（闭区间范围查询、按值数组操作、原子自增）。
// 约束：所有读写持有同一把锁；返回的文档为深拷贝，调用方修改不影响存储。
type Memory struct {
	mu   sync.Mutex
	cols map[string]map[string]Document
	// FailRange 非空时 RangeQuery 对匹配的 start 返回错误，用于模拟单个区间失败
	FailRange func(start string) error
}

func NewMemory() *Memory { return &Memory{cols: make(map[string]map[string]Document)} }

func (m *Memory) col(name string) map[string]Document {
	c, ok := m.cols[name]
	if !ok {
		c = make(map[string]Document)
		m.cols[name] = c
	}
	return c
}

func clone(d Document) Document {
	v, err := normalize(d)
	if err != nil {
		return nil
	}
	out, _ := v.(map[string]any)
	return Document(out)
}

func (m *Memory) RangeQuery(ctx context.Context, collection, orderKey, start, end string, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailRange != nil {
		if err := m.FailRange(start); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	type keyed struct {
		k string
		d Document
	}
	var hits []keyed
	for _, d := range m.col(collection) {
		k, ok := getPath(d, splitPath(orderKey)).(string)
		if !ok || k < start || k > end {
			continue
		}
		hits = append(hits, keyed{k: k, d: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].k == hits[j].k {
			return fmt.Sprint(hits[i].d["id"]) < fmt.Sprint(hits[j].d["id"])
		}
		return hits[i].k < hits[j].k
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, clone(h.d))
	}
	return out, nil
}

func (m *Memory) GetByID(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.col(collection)[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(d), nil
}

func (m *Memory) Put(ctx context.Context, collection string, doc Document) (string, error) {
	d := clone(doc)
	if d == nil {
		return "", fmt.Errorf("put %s: document not encodable", collection)
	}
	id, _ := d["id"].(string)
	if id == "" {
		id = uuid.NewString()
		d["id"] = id
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.col(collection)[id] = d
	return id, nil
}

func (m *Memory) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.col(collection)[id]
	if !ok {
		return ErrNotFound
	}
	for p, v := range fields {
		nv, err := normalize(v)
		if err != nil {
			return err
		}
		setPath(d, splitPath(p), nv)
	}
	return nil
}

// AppendToArrayField：与 arrayUnion 一致，已存在相同值时不重复追加
func (m *Memory) AppendToArrayField(ctx context.Context, collection, id, field string, value any) error {
	nv, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.col(collection)[id]
	if !ok {
		return ErrNotFound
	}
	arr, _ := getPath(d, splitPath(field)).([]any)
	for _, e := range arr {
		if reflect.DeepEqual(e, nv) {
			return nil
		}
	}
	setPath(d, splitPath(field), append(arr, nv))
	return nil
}

// RemoveFromArrayField：移除所有与 value 完全相等的元素；无匹配时静默
func (m *Memory) RemoveFromArrayField(ctx context.Context, collection, id, field string, value any) error {
	nv, err := normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.col(collection)[id]
	if !ok {
		return ErrNotFound
	}
	arr, _ := getPath(d, splitPath(field)).([]any)
	out := make([]any, 0, len(arr))
	for _, e := range arr {
		if !reflect.DeepEqual(e, nv) {
			out = append(out, e)
		}
	}
	setPath(d, splitPath(field), out)
	return nil
}

func (m *Memory) PatchArrayElementByID(ctx context.Context, collection, id, field, elemID string, patch map[string]any) (Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.col(collection)[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	elem, found, err := editElementByID(d, field, elemID, patch, false)
	if err != nil || !found {
		return nil, found, err
	}
	return clone(elem), true, nil
}

func (m *Memory) RemoveArrayElementByID(ctx context.Context, collection, id, field, elemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.col(collection)[id]
	if !ok {
		return false, ErrNotFound
	}
	_, found, err := editElementByID(d, field, elemID, nil, true)
	return found, err
}

func (m *Memory) List(ctx context.Context, collection, orderKey string, desc bool, limit int) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, d := range m.col(collection) {
		out = append(out, clone(d))
	}
	path := splitPath(orderKey)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := fmt.Sprint(getPath(out[i], path)), fmt.Sprint(getPath(out[j], path))
		if x, ok := getPath(out[i], path).(float64); ok {
			if y, ok := getPath(out[j], path).(float64); ok {
				if desc {
					return x > y
				}
				return x < y
			}
		}
		if desc {
			return a > b
		}
		return a < b
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) IncrementField(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.col(collection)[id]
	if !ok {
		return 0, ErrNotFound
	}
	cur, _ := getPath(d, splitPath(field)).(float64)
	n := int64(cur) + delta
	setPath(d, splitPath(field), float64(n))
	return n, nil
}

func getPath(d map[string]any, path []string) any {
	var cur any = d
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func setPath(d map[string]any, path []string, v any) {
	cur := d
	for _, p := range path[:len(path)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}
