package position

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"

	"PositionSentinel/internal/model"
)

// Store persists the open position so it survives restarts.
type Store interface {
	// Load returns the persisted position, or nil when none is recorded.
	Load() (*model.Position, error)
	Save(pos model.Position) error
	Clear() error
}

// stateFile is the on-disk JSON layout of FileStore.
type stateFile struct {
	Position *model.Position `json:"position"`
}

// FileStore keeps the position in a JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the position file. A missing file means no position.
func (s *FileStore) Load() (*model.Position, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read position file")
	}
	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "decode position file")
	}
	return state.Position, nil
}

func (s *FileStore) Save(pos model.Position) error {
	return s.write(stateFile{Position: &pos})
}

func (s *FileStore) Clear() error {
	return s.write(stateFile{})
}

// write replaces the file atomically via a temp file and rename.
func (s *FileStore) write(state stateFile) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create state dir")
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "write position file")
	}
	return os.Rename(tmp, s.path)
}
