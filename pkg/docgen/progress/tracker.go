// Package progress maintains the pollable, in-memory projection of each
// batch's current stage and percentage. Snapshots are a cache: they are
// rebuilt on every stage transition and lost on restart; the Batch record
// remains the durable source of truth.
package progress

import (
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/model"
)

// Snapshot is the ephemeral read model for one batch.
type Snapshot struct {
	BatchID string
	Stage   model.Stage
	// Percent is 0-100, monotonically non-decreasing until a terminal stage.
	Percent int
	Message string
	// Details carries stage-specific metrics (rows parsed, placeholders
	// found, rows processed, ...).
	Details   map[string]interface{}
	UpdatedAt time.Time
}

// stageWeights fixes each stage's base percentage. Generation scales
// continuously from its base to generationCeiling with row completion.
var stageWeights = map[model.Stage]int{
	model.StageCreated:             0,
	model.StageParsingData:         10,
	model.StageAnalyzingTemplate:   20,
	model.StageValidatingRows:      30,
	model.StageGeneratingDocuments: 40,
	model.StageCreatingArchive:     80,
	model.StageSendingNotification: 90,
	model.StageCompleted:           100,
}

const generationCeiling = 80

// Percent derives the progress percentage for a stage. During generation,
// processed/total scales the value continuously between the stage base and
// the archive stage's base, so polling clients see smooth movement during the
// longest stage.
func Percent(stage model.Stage, processed, total int) int {
	base, ok := stageWeights[stage]
	if !ok {
		// failed/cancelled keep the last reported percentage; callers do not
		// ask for a weight for them.
		return 0
	}
	if stage != model.StageGeneratingDocuments || total <= 0 {
		return base
	}
	span := generationCeiling - base
	return base + span*processed/total
}

// Tracker is the single-writer state container for progress snapshots.
// All access goes through its methods; there is no ambient global.
type Tracker struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{snapshots: make(map[string]*Snapshot)}
}

// Update overwrites the snapshot for a batch. The percentage is clamped so it
// never decreases for a given batch across successive updates.
func (t *Tracker) Update(batchID string, stage model.Stage, percent int, message string, details map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.snapshots[batchID]; ok && percent < prev.Percent {
		percent = prev.Percent
	}
	t.snapshots[batchID] = &Snapshot{
		BatchID:   batchID,
		Stage:     stage,
		Percent:   percent,
		Message:   message,
		Details:   details,
		UpdatedAt: time.Now(),
	}
}

// Read returns the snapshot for a batch, or false if the batch is not
// currently tracked (never submitted here, or already evicted).
func (t *Tracker) Read(batchID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.snapshots[batchID]
	if !ok {
		return Snapshot{}, false
	}
	return *s, true
}

// Remove drops a batch's snapshot.
func (t *Tracker) Remove(batchID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.snapshots, batchID)
}

// Sweep evicts snapshots not updated since the cutoff and reports how many
// were dropped. The janitor runs this alongside job retention cleanup.
func (t *Tracker) Sweep(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.snapshots {
		if s.UpdatedAt.Before(cutoff) {
			delete(t.snapshots, id)
			n++
		}
	}
	return n
}

// Module provides the tracker.
var Module = fx.Options(
	fx.Provide(NewTracker),
)
