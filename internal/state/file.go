package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileState keeps the rule inventory in a local JSON file under the
// data root, surviving controller restarts on the same host.
type FileState struct {
	Path  string
	Mutex sync.Mutex
}

func (s *FileState) Put(data interface{}) error {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	jsonData, err := json.Marshal(data)
	if err != nil {
		return errors.New(fmt.Sprintf("could not encode data to json: %v\n", err))
	}
	tmp := s.Path + ".tmp"
	if err = os.WriteFile(tmp, jsonData, 0644); err != nil {
		return errors.New(fmt.Sprintf("could not write state: %v\n", err))
	}
	if err = os.Rename(tmp, s.Path); err != nil {
		return errors.New(fmt.Sprintf("could not write state: %v\n", err))
	}
	return nil
}

func (s *FileState) Get() ([]byte, error) {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	bytes, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.New(fmt.Sprintf("could not read state: %v\n", err))
	}
	return bytes, nil
}

func NewFileState(dir string) *FileState {
	return &FileState{
		Path: filepath.Join(dir, "state.json"),
	}
}
