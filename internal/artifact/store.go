package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"SalesForecast/internal/gbrt"
)

// Store 模型产物文件存储。目录结构：
//
//	<dir>/<version_id>.json    在役/候选模型产物
//	<dir>/archive/             被替换的旧版本
//	<dir>/rejected/            评估未通过的版本
type Store struct {
	dir string
}

// NewStore 初始化产物目录
func NewStore(dir string) (*Store, error) {
	for _, d := range []string{dir, filepath.Join(dir, "archive"), filepath.Join(dir, "rejected")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("创建模型目录失败 %s: %w", d, err)
		}
	}
	return &Store{dir: dir}, nil
}

// NewVersionID 生成版本号：v_YYYYMMDD_HHMMSS_<uuid前8位>
func NewVersionID(now time.Time) string {
	return fmt.Sprintf("v_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// Path 版本产物的绝对路径
func (s *Store) Path(versionID string) string {
	return filepath.Join(s.dir, versionID+".json")
}

// Save 序列化并落盘模型产物。先写临时文件再 rename，避免读到半个文件。
// 返回产物路径与大小（MB）。
func (s *Store) Save(versionID string, m *gbrt.Model) (string, float64, error) {
	data, err := m.Marshal()
	if err != nil {
		return "", 0, err
	}
	path := s.Path(versionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", 0, fmt.Errorf("写入模型产物失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", 0, fmt.Errorf("模型产物落盘失败: %w", err)
	}
	return path, float64(len(data)) / 1024 / 1024, nil
}

// Load 按版本号加载模型
func (s *Store) Load(versionID string) (*gbrt.Model, error) {
	return s.LoadPath(s.Path(versionID))
}

// LoadPath 按产物路径加载模型（兼容已归档路径）
func (s *Store) LoadPath(path string) (*gbrt.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取模型产物失败 %s: %w", path, err)
	}
	return gbrt.Unmarshal(data)
}

// Archive 把被替换的版本移入 archive/，返回新路径
func (s *Store) Archive(versionID string) (string, error) {
	return s.moveTo(versionID, "archive")
}

// Reject 把评估未通过的版本移入 rejected/，返回新路径
func (s *Store) Reject(versionID string) (string, error) {
	return s.moveTo(versionID, "rejected")
}

func (s *Store) moveTo(versionID, sub string) (string, error) {
	if strings.ContainsAny(versionID, `/\`) {
		return "", fmt.Errorf("非法的版本号: %q", versionID)
	}
	src := s.Path(versionID)
	dst := filepath.Join(s.dir, sub, versionID+".json")
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("移动模型产物失败 %s -> %s: %w", src, dst, err)
	}
	return dst, nil
}
