// Package checkpoint persists successful stage outputs keyed by run id and
// stage id so an interrupted run resumes without re-executing finished work.
package checkpoint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/jonathan/reel-forge/internal/fault"
	"github.com/jonathan/reel-forge/internal/stage"
)

var (
	// ErrNotFound is returned by Load when no entry exists for the key.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrNotCheckpointable is returned by Save for statuses other than completed or skipped.
	ErrNotCheckpointable = errors.New("only completed or skipped results are checkpointed")
	// ErrInvalidKey is returned for run or stage ids that are unsafe as storage keys.
	ErrInvalidKey = errors.New("invalid checkpoint key")
	// ErrCorrupt is returned by Verify when data does not match its checksum.
	ErrCorrupt = errors.New("checkpoint data does not match checksum")
)

// Entry is the persisted form of one stage result. The JSON layout is read
// directly by operators inspecting a stuck run.
type Entry struct {
	RunID        string          `json:"runId"`
	StageID      string          `json:"stageId"`
	// Index is the stage's position in its pipeline. ListCompleted orders by
	// it, never by wall time.
	Index        int             `json:"index"`
	Status       stage.Status    `json:"status"`
	Data         json.RawMessage `json:"data"`
	Attempts     int             `json:"attempts"`
	CompletedAt  time.Time       `json:"completedAt"`
	StageVersion int             `json:"stageVersion,omitempty"`
	ErrorKind    fault.Kind      `json:"errorKind,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Degraded     bool            `json:"degraded,omitempty"`
	// Checksum is the hex BLAKE2b-256 of Data.
	Checksum string `json:"checksum,omitempty"`
}

// Store persists entries. Implementations must make Save atomic and must
// treat a Save for an existing key as a no-op.
type Store interface {
	Save(ctx context.Context, e Entry) error
	Load(ctx context.Context, runID, stageID string) (Entry, error)
	// ListCompleted returns the stage ids checkpointed for runID ordered by
	// Index.
	ListCompleted(ctx context.Context, runID string) ([]string, error)
	// Delete removes every entry of runID.
	Delete(ctx context.Context, runID string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateKey rejects ids that could escape a storage namespace.
func ValidateKey(id string) error {
	if !keyPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	return nil
}

// Validate checks an entry before it is written.
func (e Entry) Validate() error {
	if err := ValidateKey(e.RunID); err != nil {
		return err
	}
	if err := ValidateKey(e.StageID); err != nil {
		return err
	}
	if e.Index < 0 {
		return fmt.Errorf("checkpoint %s/%s: negative index %d", e.RunID, e.StageID, e.Index)
	}
	if e.Status != stage.StatusCompleted && e.Status != stage.StatusSkipped {
		return fmt.Errorf("%w: %s/%s is %s", ErrNotCheckpointable, e.RunID, e.StageID, e.Status)
	}
	if len(e.Data) == 0 || !json.Valid(e.Data) {
		return fmt.Errorf("checkpoint %s/%s: data is not valid JSON", e.RunID, e.StageID)
	}
	return nil
}

// Checksum returns the hex BLAKE2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports ErrCorrupt when the entry carries a checksum that does not
// match its data. Entries written without a checksum pass.
func (e Entry) Verify() error {
	if e.Checksum == "" {
		return nil
	}
	if Checksum(e.Data) != e.Checksum {
		return fmt.Errorf("%w: %s/%s", ErrCorrupt, e.RunID, e.StageID)
	}
	return nil
}

// FromResult builds the entry for the finished result of the stage at
// position index.
func FromResult(runID string, index int, desc stage.Descriptor, r stage.Result) (Entry, error) {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal %s output: %w", desc.ID, err)
	}
	completed := r.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	return Entry{
		RunID:        runID,
		StageID:      desc.ID,
		Index:        index,
		Status:       r.Status,
		Data:         data,
		Attempts:     r.Attempts,
		CompletedAt:  completed.UTC(),
		StageVersion: desc.Version,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		Degraded:     r.Degraded,
		Checksum:     Checksum(data),
	}, nil
}

// List loads every entry of runID in pipeline order.
func List(ctx context.Context, s Store, runID string) ([]Entry, error) {
	ids, err := s.ListCompleted(ctx, runID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := s.Load(ctx, runID, id)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: %w", runID, id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// sortByIndex orders entries by pipeline position. Entries sharing an index
// keep their relative order.
func sortByIndex(entries []Entry) []string {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Index < entries[j].Index
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.StageID
	}
	return ids
}
