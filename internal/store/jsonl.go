package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLStore keeps records as one JSON document per line in a flat file.
type JSONLStore[T any] struct {
	path string
	key  KeyFunc[T]
	mu   sync.Mutex
}

func NewJSONLStore[T any](path string, key KeyFunc[T]) (*JSONLStore[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &JSONLStore[T]{path: path, key: key}, nil
}

func (s *JSONLStore[T]) Append(_ context.Context, rec T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

func (s *JSONLStore[T]) appendLocked(rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (s *JSONLStore[T]) readLocked() ([]T, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var recs []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("corrupt record in %s: %w", s.path, err)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return dedupeByKey(recs, s.key), nil
}

func (s *JSONLStore[T]) ReadAll(_ context.Context) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *JSONLStore[T]) Filter(_ context.Context, pred func(T) bool) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	var out []T
	for _, r := range recs {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *JSONLStore[T]) FindByID(_ context.Context, id string) (T, bool, error) {
	var zero T
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readLocked()
	if err != nil {
		return zero, false, err
	}
	for _, r := range recs {
		if s.key(r) == id {
			return r, true, nil
		}
	}
	return zero, false, nil
}

// Upsert appends a superseding record; the old version is dropped on read
// and physically removed by Compact.
func (s *JSONLStore[T]) Upsert(_ context.Context, rec T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(rec)
}

func (s *JSONLStore[T]) DeleteWhere(_ context.Context, pred func(T) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	var kept []T
	deleted := 0
	for _, r := range recs {
		if pred(r) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := s.rewriteLocked(kept); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *JSONLStore[T]) Compact(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	recs, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	if err := s.rewriteLocked(recs); err != nil {
		return 0, err
	}
	after, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	reclaimed := before.Size() - after.Size()
	if reclaimed < 0 {
		reclaimed = 0
	}
	return reclaimed, nil
}

func (s *JSONLStore[T]) rewriteLocked(recs []T) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}
