package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mrz1836/balancewatch/internal/fileutil"
	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// filePermissions is the permission mode for the state file.
const filePermissions = 0o600

// File keeps every key in one JSON document, rewritten atomically on Set.
// Values must be JSON.
type File struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFile creates a file-backed store at path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, bwerr.WithDetails(bwerr.ErrConfigInvalid, map[string]string{"storage.path": "required for file storage"})
	}
	return &File{path: path, now: time.Now}, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Get implements Store. A corrupt file is reported as ErrCorruptState and
// left in place; the next Set moves it aside.
func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(false)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return bwerr.WithDetails(bwerr.ErrInvalidInput, map[string]string{"key": key, "reason": "value is not JSON"})
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load(true)
	if err != nil && !bwerr.Is(err, bwerr.ErrCorruptState) {
		return err
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	doc[key] = append(json.RawMessage(nil), value...)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return bwerr.Wrap(err, "marshaling state file")
	}
	if err := fileutil.WriteAtomic(f.path, data, filePermissions); err != nil {
		return bwerr.WrapWith(bwerr.ErrStorage, err, "writing %s", f.path)
	}
	return nil
}

// Close implements Store.
func (f *File) Close() error { return nil }

// load reads the document. With quarantine set, a corrupt file is renamed
// to <path>.corrupt.<nanos> before ErrCorruptState is returned.
func (f *File) load(quarantine bool) (map[string]json.RawMessage, error) {
	data, ok, err := fileutil.ReadIfExists(f.path)
	if err != nil {
		return nil, bwerr.WrapWith(bwerr.ErrStorage, err, "reading %s", f.path)
	}
	if !ok || len(data) == 0 {
		return make(map[string]json.RawMessage), nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		details := map[string]string{"path": f.path, "reason": err.Error()}
		if quarantine {
			if moved, mvErr := fileutil.Quarantine(f.path, f.now()); mvErr == nil {
				details["moved_to"] = moved
			}
		}
		return nil, bwerr.WithDetails(bwerr.ErrCorruptState, details)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	return doc, nil
}
