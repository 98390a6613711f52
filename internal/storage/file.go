package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// FileStore keeps the snapshot in a single JSON document.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = "state.json"
	}
	return &FileStore{path: path}
}

// Path reports the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

type fileRecord struct {
	ATHPrice  *stateNumber `json:"ath_price,omitempty"`
	ATHNav    *stateNumber `json:"ath_nav,omitempty"`
	ATHDate   string       `json:"ath_date"`
	LastAlert stateNumber  `json:"last_alert"`
}

// stateNumber writes a decimal as a bare JSON number without a float64 detour.
type stateNumber struct {
	decimal.Decimal
}

func (n stateNumber) MarshalJSON() ([]byte, error) {
	return []byte(n.Decimal.String()), nil
}

func (n *stateNumber) UnmarshalJSON(data []byte) error {
	return n.Decimal.UnmarshalJSON(data)
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (f *FileStore) Load(ctx context.Context) (Snapshot, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Snapshot{}, nil
	}

	var records map[string]fileRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", f.path, err)
	}

	snap := make(Snapshot, len(records))
	for name, rec := range records {
		state, err := rec.toState()
		if err != nil {
			return nil, fmt.Errorf("decode state for %q: %w", name, err)
		}
		snap[name] = state
	}
	return snap, nil
}

// Save overwrites the whole file through a temp file and rename so a failed
// write leaves the previous document intact.
func (f *FileStore) Save(ctx context.Context, snap Snapshot) error {
	records := make(map[string]fileRecord, len(snap))
	for name, state := range snap {
		records[name] = fromState(state)
	}

	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	payload = append(payload, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (r fileRecord) toState() (AlertState, error) {
	price := r.ATHPrice
	if price == nil {
		price = r.ATHNav
	}
	if price == nil {
		return AlertState{}, errors.New("missing ath_price")
	}

	date, err := parseStateDate(r.ATHDate)
	if err != nil {
		return AlertState{}, err
	}

	return AlertState{
		ATHPrice:       price.Decimal,
		ATHDate:        date,
		LastAlertLevel: r.LastAlert.Decimal,
	}, nil
}

func fromState(s AlertState) fileRecord {
	return fileRecord{
		ATHPrice:  &stateNumber{s.ATHPrice},
		ATHDate:   s.ATHDate.Format(dateLayout),
		LastAlert: stateNumber{s.LastAlertLevel},
	}
}

// Older state files wrote dates with a time component.
func parseStateDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{dateLayout, "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ath_date %q", v)
}

var _ AlertStateStore = (*FileStore)(nil)
