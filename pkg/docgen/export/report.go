// Package export writes the optional post-archive outcome report: one parquet
// file per batch summarizing every row's result. Report failures are logged
// and never change a batch's terminal status.
package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/fx"

	"github.com/docmint/docmint/pkg/docgen/core/config"
	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/storage"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/support/logger"
)

const moduleName = "export"

// outcomeRecord is the parquet row schema of the report.
type outcomeRecord struct {
	BatchID   string `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	RowNumber int32  `parquet:"name=row_number, type=INT32"`
	Outcome   string `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutputRef string `parquet:"name=output_ref, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error     string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Reporter writes outcome reports to artifact storage.
type Reporter struct {
	store   storage.Store
	enabled bool
}

// NewReporter creates a reporter honoring the export configuration.
func NewReporter(cfg *config.Config, store storage.Store) *Reporter {
	return &Reporter{store: store, enabled: cfg.Docmint.Export.OutcomeReport}
}

// Enabled reports whether outcome reports are configured on.
func (r *Reporter) Enabled() bool {
	return r.enabled
}

// ObjectRef returns the storage object name of a batch's outcome report.
func ObjectRef(batchID string) string {
	return fmt.Sprintf("batches/%s/outcomes.parquet", batchID)
}

// WriteOutcomeReport serializes the outcomes to parquet and uploads the file
// next to the batch archive. Disabled reporters and empty outcome sets no-op.
func (r *Reporter) WriteOutcomeReport(ctx context.Context, batchID string, outcomes []*model.RowOutcome) error {
	if !r.enabled || len(outcomes) == 0 {
		return nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(outcomeRecord), int64(len(outcomes)))
	if err != nil {
		return exception.New(moduleName, "failed to create parquet writer", err, false)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, o := range outcomes {
		rec := outcomeRecord{
			BatchID:   o.BatchID,
			RowNumber: int32(o.RowNumber),
			Outcome:   string(o.Outcome),
			OutputRef: o.OutputRef,
			Error:     o.Error,
		}
		if werr := pw.Write(rec); werr != nil {
			return exception.New(moduleName, "failed to write outcome record", werr, false)
		}
	}

	if err := stopWriter(pw); err != nil {
		return err
	}

	objectName := ObjectRef(batchID)
	if err := r.store.Upload(ctx, objectName, buf, "application/octet-stream"); err != nil {
		return exception.New(moduleName, "failed to upload outcome report", err, true)
	}
	logger.Infof("export: wrote outcome report for batch %s (%d rows) to %s", batchID, len(outcomes), objectName)
	return nil
}

// stopWriter finalizes the parquet file, converting library panics to errors.
func stopWriter(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.Newf(moduleName, "parquet writer panicked during finalize: %v", r)
		}
	}()
	if serr := pw.WriteStop(); serr != nil {
		err = exception.New(moduleName, "failed to finalize parquet file", serr, false)
	}
	return err
}

// Module provides the reporter.
var Module = fx.Options(
	fx.Provide(NewReporter),
)
