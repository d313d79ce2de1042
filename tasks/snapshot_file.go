package tasks

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileSnapshotter 把状态保存为 CSV 文件
type FileSnapshotter struct {
	path   string
	codec  CSVCodec
	digest [sha256.Size]byte
}

var _ Snapshotter = (*FileSnapshotter)(nil)

// NewFileSnapshotter 创建文件后端
func NewFileSnapshotter(path string, codec CSVCodec) (*FileSnapshotter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: file path is required", ErrInvalidArgument)
	}
	return &FileSnapshotter{path: path, codec: codec}, nil
}

var _ RecordChecker = (*FileSnapshotter)(nil)

// Check 检查实体能否写入文件
func (s *FileSnapshotter) Check(t *Task) error {
	if err := s.codec.Check(RecordFromTask(t)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}

// Path 文件路径
func (s *FileSnapshotter) Path() string {
	return s.path
}

// Save rewrites the whole file: header, then tasks, epics and subtasks.
// Content goes to a temp file in the same directory which is then renamed
// over the target.
func (s *FileSnapshotter) Save(snap *Snapshot) error {
	data, err := s.encode(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", ErrSaveFailed, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrSaveFailed, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write %s: %v", ErrSaveFailed, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close %s: %v", ErrSaveFailed, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: failed to replace %s: %v", ErrSaveFailed, s.path, err)
	}

	s.digest = sha256.Sum256(data)
	return nil
}

func (s *FileSnapshotter) encode(snap *Snapshot) ([]byte, error) {
	lines := []string{CSVHeader}
	if snap != nil {
		for _, group := range [][]*Task{snap.Tasks, snap.Epics, snap.Subtasks} {
			for _, t := range group {
				line, err := s.codec.Encode(RecordFromTask(t))
				if err != nil {
					return nil, err
				}
				lines = append(lines, line)
			}
		}
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// Load 读取文件。文件不存在或为空时返回空状态。
func (s *FileSnapshotter) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.digest = sha256.Sum256(nil)
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrSaveFailed, s.path, err)
	}

	snap, err := s.decode(string(data))
	if err != nil {
		return nil, err
	}
	s.digest = sha256.Sum256(data)
	return snap, nil
}

func (s *FileSnapshotter) decode(content string) (*Snapshot, error) {
	snap := &Snapshot{}
	lines := strings.Split(content, "\n")
	// first line is the header
	for n, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		r, err := s.codec.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.path, n+2, err)
		}
		switch r.Kind {
		case KindTask:
			snap.Tasks = append(snap.Tasks, r.Task())
		case KindEpic:
			snap.Epics = append(snap.Epics, r.Task())
		case KindSubtask:
			snap.Subtasks = append(snap.Subtasks, r.Task())
		}
	}
	return snap, nil
}

// Changed reports whether the file differs from what was last loaded or
// saved through s.
func (s *FileSnapshotter) Changed() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.digest != sha256.Sum256(nil), nil
		}
		return false, fmt.Errorf("%w: failed to read %s: %v", ErrSaveFailed, s.path, err)
	}
	return sha256.Sum256(data) != s.digest, nil
}
