// 包 store：文档库协作方的最小接口与实现（Postgres JSONB / 内存）
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("document not found")

// Document：JSON 对象形态的文档；嵌套字段以点号路径寻址（如 location.geohash）
type Document map[string]any

// 文档注释：文档库能力集合
// 背景：发现与审核逻辑只依赖这些原语；范围查询按 orderKey 升序返回，数组字段按值增删（非下标）。
// 约束：RangeQuery 的 start/end 为闭区间；Put 在 id 为空时分配新 id 并写回 "id" 字段；
// *ArrayElementByID 按元素的 "id" 字段定位，读改写在存储侧一次完成，不会覆盖并发追加的元素。
type DocumentStore interface {
	RangeQuery(ctx context.Context, collection, orderKey, start, end string, limit int) ([]Document, error)
	GetByID(ctx context.Context, collection, id string) (Document, error)
	Put(ctx context.Context, collection string, doc Document) (string, error)
	UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error
	AppendToArrayField(ctx context.Context, collection, id, field string, value any) error
	RemoveFromArrayField(ctx context.Context, collection, id, field string, value any) error
	// PatchArrayElementByID：把 patch 合并进 id 匹配的元素并返回合并结果；ok=false 表示没有该元素
	PatchArrayElementByID(ctx context.Context, collection, id, field, elemID string, patch map[string]any) (elem Document, ok bool, err error)
	RemoveArrayElementByID(ctx context.Context, collection, id, field, elemID string) (bool, error)
	List(ctx context.Context, collection, orderKey string, desc bool, limit int) ([]Document, error)
}

// Incrementer：可选的原子计数能力，返回自增后的值；存在时审核计数不再依赖调用方快照
type Incrementer interface {
	IncrementField(ctx context.Context, collection, id, field string, delta int64) (int64, error)
}

// Encode：结构体经 JSON 归一化为 Document
func Encode(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var d Document
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// Decode：Document 解码到结构体
func Decode(d Document, v any) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// normalize：任意值转为 JSON 形态（map[string]any / []any / float64 ...），用于按值比较
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// editElementByID：在 doc 的数组字段上按元素 id 合并 patch 或删除；返回被命中的元素（删除时为原值）
func editElementByID(doc Document, field, elemID string, patch map[string]any, remove bool) (Document, bool, error) {
	path := splitPath(field)
	arr, _ := getPath(doc, path).([]any)
	for i, e := range arr {
		m, ok := e.(map[string]any)
		if !ok || m["id"] != elemID {
			continue
		}
		if remove {
			out := make([]any, 0, len(arr)-1)
			out = append(out, arr[:i]...)
			out = append(out, arr[i+1:]...)
			setPath(doc, path, out)
			return Document(m), true, nil
		}
		for k, v := range patch {
			nv, err := normalize(v)
			if err != nil {
				return nil, false, err
			}
			m[k] = nv
		}
		return Document(m), true, nil
	}
	return nil, false, nil
}

func splitPath(p string) []string { return strings.Split(p, ".") }

// SubCollection：子集合路径，如 spots/{id}/reports
func SubCollection(parent, id, name string) string { return parent + "/" + id + "/" + name }

var (
	_ DocumentStore = (*Memory)(nil)
	_ DocumentStore = (*Postgres)(nil)
	_ Incrementer   = (*Memory)(nil)
	_ Incrementer   = (*Postgres)(nil)
)
