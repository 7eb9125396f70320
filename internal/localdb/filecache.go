package localdb

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"spot-api/internal/logger"
)

const fileSuffix = ".kv"

// FileKV：每个键一个文件，文件名为键的十六进制编码，进程重启后仍可读取
type FileKV struct {
	dir string
}

// 文档注释：创建文件键值存储
// 背景：作为客户端常驻缓存的落盘实现，适合无 Redis 的单机部署；目录不存在时自动创建。
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	logger.L().Debug("filekv_init", "dir", dir)
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+fileSuffix)
}

func (f *FileKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Put：先写临时文件再 rename，读者不会看到写了一半的内容
func (f *FileKV) Put(ctx context.Context, key string, val []byte) error {
	tmp, err := os.CreateTemp(f.dir, "tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(val); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileKV) ListKeys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		b, err := hex.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	sort.Strings(out)
	return out, nil
}
