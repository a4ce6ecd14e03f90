// Package model defines the persistent entities of the docmint pipeline:
// the Batch (the client-visible unit of work), the RowOutcome (per-row result
// of the generation stage), and the Job (the queue's schedulable unit).
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

// BatchStatus represents the client-visible state of a batch.
type BatchStatus string

const (
	BatchStatusCreated    BatchStatus = "created"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status allows no further transitions.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// Stage identifies one step of the fixed, linear batch pipeline.
type Stage string

const (
	StageCreated             Stage = "created"
	StageParsingData         Stage = "parsing_data"
	StageAnalyzingTemplate   Stage = "analyzing_template"
	StageValidatingRows      Stage = "validating_rows"
	StageGeneratingDocuments Stage = "generating_documents"
	StageCreatingArchive     Stage = "creating_archive"
	StageSendingNotification Stage = "sending_notification"
	StageCompleted           Stage = "completed"
	StageFailed              Stage = "failed"
	StageCancelled           Stage = "cancelled"
)

// stageOrder fixes the linear sequence of pipeline stages. Terminal stages are
// not part of the sequence; failed is reachable from any non-terminal stage.
var stageOrder = []Stage{
	StageCreated,
	StageParsingData,
	StageAnalyzingTemplate,
	StageValidatingRows,
	StageGeneratingDocuments,
	StageCreatingArchive,
	StageSendingNotification,
	StageCompleted,
}

// StageIndex returns the position of a stage in the pipeline sequence, or -1
// for terminal failure/cancellation stages.
func StageIndex(s Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// NextStage returns the stage following s in the fixed sequence. The second
// return value is false when s is the last sequential stage or not sequential.
func NextStage(s Stage) (Stage, bool) {
	idx := StageIndex(s)
	if idx < 0 || idx+1 >= len(stageOrder) {
		return s, false
	}
	return stageOrder[idx+1], true
}

// CancellableStage reports whether a batch in the given stage may still be
// cancelled. Once row generation starts committing work, the documented
// behavior is run-to-completion.
func CancellableStage(s Stage) bool {
	return s == StageCreated || s == StageParsingData
}

// OutputFormat selects the rendered document format for a batch.
type OutputFormat string

const (
	OutputFormatPDF  OutputFormat = "pdf"
	OutputFormatDocx OutputFormat = "docx"
	OutputFormatBoth OutputFormat = "both"
)

// Valid reports whether the format is one of the supported values.
func (f OutputFormat) Valid() bool {
	switch f {
	case OutputFormatPDF, OutputFormatDocx, OutputFormatBoth:
		return true
	}
	return false
}

// DataRow is one row of the uploaded data set, a field-name to value mapping.
type DataRow map[string]interface{}

// Value implements driver.Valuer, storing the row as a JSON string.
func (r DataRow) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, reading the row back from its JSON form.
func (r *DataRow) Scan(value interface{}) error {
	if value == nil {
		*r = make(DataRow)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for DataRow: %T", value)
	}
	if len(b) == 0 {
		*r = make(DataRow)
		return nil
	}
	if err := json.Unmarshal(b, r); err != nil {
		return fmt.Errorf("failed to unmarshal DataRow JSON: %w", err)
	}
	return nil
}

// FieldList is a list of field names, stored as a JSON array column.
type FieldList []string

// Value implements driver.Valuer.
func (l FieldList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *FieldList) Scan(value interface{}) error {
	if value == nil {
		*l = make(FieldList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FieldList: %T", value)
	}
	if len(b) == 0 {
		*l = make(FieldList, 0)
		return nil
	}
	if err := json.Unmarshal(b, l); err != nil {
		return fmt.Errorf("failed to unmarshal FieldList JSON: %w", err)
	}
	return nil
}

// Batch is the durable record of one end-to-end document-generation request.
// It is mutated exclusively by the orchestrator during stage execution and is
// the single source of truth for client-visible status.
type Batch struct {
	ID             string       `gorm:"primaryKey;size:36"`
	Status         BatchStatus  `gorm:"size:20;index"`
	Stage          Stage        `gorm:"size:32"`
	TemplateName   string       `gorm:"size:255"`
	OutputFormat   OutputFormat `gorm:"size:8"`
	DatasetFormat  string       `gorm:"size:8"`
	NotifyEmail    string       `gorm:"size:255"`
	RequiredFields FieldList    `gorm:"type:text"`
	TotalRows      int
	CompletedCount int
	FailedCount    int
	ArchiveRef     string `gorm:"size:512"`
	// JobID links the batch to its queue job so cancellation can dequeue a
	// still-pending execution.
	JobID     string `gorm:"size:36"`
	LastError string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// NewBatch creates a batch in status created with a fresh identifier.
func NewBatch(templateName string, format OutputFormat, notifyEmail string) *Batch {
	now := time.Now()
	return &Batch{
		ID:           NewID(),
		Status:       BatchStatusCreated,
		Stage:        StageCreated,
		TemplateName: templateName,
		OutputFormat: format,
		NotifyEmail:  notifyEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// isValidBatchTransition checks whether a batch status transition is allowed.
func isValidBatchTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusCreated:
		return next == BatchStatusProcessing || next == BatchStatusFailed || next == BatchStatusCancelled
	case BatchStatusProcessing:
		return next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusCancelled
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the batch status. Fields other than Status
// and UpdatedAt must be set separately by the caller.
func (b *Batch) TransitionTo(next BatchStatus) error {
	if !isValidBatchTransition(b.Status, next) {
		return fmt.Errorf("batch %s: invalid status transition: %s -> %s", b.ID, b.Status, next)
	}
	b.Status = next
	b.UpdatedAt = time.Now()
	return nil
}

// EnterStage records the batch as actively working on the given stage.
func (b *Batch) EnterStage(s Stage) {
	if b.Status == BatchStatusCreated && s != StageCreated {
		if err := b.TransitionTo(BatchStatusProcessing); err != nil {
			logger.Warnf("batch %s: could not move to processing: %v", b.ID, err)
			b.Status = BatchStatusProcessing
		}
	}
	b.Stage = s
	b.UpdatedAt = time.Now()
}

// MarkAsCompleted moves the batch to its successful terminal state.
func (b *Batch) MarkAsCompleted() {
	if err := b.TransitionTo(BatchStatusCompleted); err != nil {
		logger.Warnf("batch %s: could not mark completed: %v", b.ID, err)
		b.Status = BatchStatusCompleted
	}
	b.Stage = StageCompleted
	now := time.Now()
	b.CompletedAt = &now
	b.UpdatedAt = now
}

// MarkAsFailed moves the batch to failed and records the terminal reason.
func (b *Batch) MarkAsFailed(err error) {
	if terr := b.TransitionTo(BatchStatusFailed); terr != nil {
		logger.Warnf("batch %s: could not mark failed: %v", b.ID, terr)
		b.Status = BatchStatusFailed
	}
	b.Stage = StageFailed
	now := time.Now()
	b.CompletedAt = &now
	b.UpdatedAt = now
	if err != nil {
		b.LastError = exception.Message(err)
	}
}

// MarkAsCancelled moves the batch to cancelled. Only valid before row
// generation has begun committing work.
func (b *Batch) MarkAsCancelled() {
	if err := b.TransitionTo(BatchStatusCancelled); err != nil {
		logger.Warnf("batch %s: could not mark cancelled: %v", b.ID, err)
		b.Status = BatchStatusCancelled
	}
	b.Stage = StageCancelled
	now := time.Now()
	b.CompletedAt = &now
	b.UpdatedAt = now
}

// RecordRowResult updates the batch counters for one processed row while
// preserving the invariant completedCount + failedCount <= totalRows.
func (b *Batch) RecordRowResult(succeeded bool) error {
	if b.CompletedCount+b.FailedCount >= b.TotalRows {
		return fmt.Errorf("batch %s: row result overflows totalRows=%d", b.ID, b.TotalRows)
	}
	if succeeded {
		b.CompletedCount++
	} else {
		b.FailedCount++
	}
	b.UpdatedAt = time.Now()
	return nil
}

// RowOutcomeResult is the success/failure classification of a processed row.
type RowOutcomeResult string

const (
	RowOutcomeSuccess RowOutcomeResult = "success"
	RowOutcomeFailed  RowOutcomeResult = "failed"
)

// RowOutcome records the result of one data row of a batch. Outcomes are
// created during the render stage and are immutable once written.
type RowOutcome struct {
	ID        string           `gorm:"primaryKey;size:36"`
	BatchID   string           `gorm:"size:36;index"`
	RowNumber int              // 1-based, stable ordering from the source data set
	Data      DataRow          `gorm:"type:text"`
	Outcome   RowOutcomeResult `gorm:"size:10"`
	OutputRef string           `gorm:"size:512"`
	Error     string           `gorm:"type:text"`
	CreatedAt time.Time
}

// NewRowOutcome creates an outcome record for a row of the given batch.
func NewRowOutcome(batchID string, rowNumber int, data DataRow) *RowOutcome {
	return &RowOutcome{
		ID:        NewID(),
		BatchID:   batchID,
		RowNumber: rowNumber,
		Data:      data,
		CreatedAt: time.Now(),
	}
}

// MarkSuccess records a successfully rendered artifact reference.
func (o *RowOutcome) MarkSuccess(outputRef string) {
	o.Outcome = RowOutcomeSuccess
	o.OutputRef = outputRef
}

// MarkFailed records a per-row failure reason.
func (o *RowOutcome) MarkFailed(err error) {
	o.Outcome = RowOutcomeFailed
	if err != nil {
		o.Error = exception.Message(err)
	}
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
