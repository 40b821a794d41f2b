package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/geoload/internal/feature"
	"github.com/JonMunkholm/geoload/internal/geometry"
	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/muesli/reflow/truncate"
)

// ContextCheckInterval is how many rows are written between checks for
// cancellation.
const ContextCheckInterval = 100

const maxReasonWidth = 200

// Mode selects what happens when the target table already exists.
type Mode string

const (
	ModeAppend  Mode = "append"
	ModeReplace Mode = "replace"
	ModeFail    Mode = "fail"
)

// ParseMode parses a mode name. Empty means append.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAppend, nil
	case ModeAppend, ModeReplace, ModeFail:
		return m, nil
	default:
		return "", fmt.Errorf("unknown write mode %q (want append, replace or fail)", s)
	}
}

// Outcome is what happened to one row.
type Outcome int

const (
	Inserted Outcome = iota
	RetriedInserted
	Duplicate
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case RetriedInserted:
		return "retried_inserted"
	case Duplicate:
		return "duplicate"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// RowResult is the outcome of writing one feature.
type RowResult struct {
	Index   int     `json:"index"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// WriteSummary aggregates the row results of one write.
type WriteSummary struct {
	Table      string `json:"table"`
	Created    bool   `json:"created"`
	Truncated  bool   `json:"truncated"`
	Attempted  int    `json:"attempted"`
	Inserted   int    `json:"inserted"`
	Retried    int    `json:"retried"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`

	SkippedRows       []RowResult `json:"skipped_rows,omitempty"`
	DroppedAttributes []string    `json:"dropped_attributes,omitempty"`
}

func (s *WriteSummary) add(r RowResult) {
	s.Attempted++
	switch r.Outcome {
	case Inserted:
		s.Inserted++
	case RetriedInserted:
		s.Inserted++
		s.Retried++
	case Duplicate:
		s.Duplicates++
	case Skipped:
		s.Skipped++
		s.SkippedRows = append(s.SkippedRows, r)
	}
}

// WriteOptions tune table creation.
type WriteOptions struct {
	// UniqueAttributes declares a natural-key constraint when the table is
	// created. Ignored for existing tables.
	UniqueAttributes []string
}

// Write upserts every feature of c into the table in one transaction.
//
// fail mode aborts with ErrTableExists when the table exists. replace mode
// truncates an existing table and resets its identity. append mode inserts
// into the existing table. A missing table is created first in every mode.
//
// Each row is isolated by a savepoint. A failed insert is rolled back and
// retried once with sanitized values; if that fails too the row is skipped
// and the write continues. Only store-level failures return an error.
func (s *Store) Write(ctx context.Context, c *feature.Collection, ident TableIdentity, mode Mode, opts WriteOptions) (*WriteSummary, error) {
	log := logging.FromContext(ctx).With(slog.String("table", ident.String()))
	schema := InferSchema(c, ident, opts.UniqueAttributes)
	summary := &WriteSummary{Table: ident.String()}
	if len(schema.Collisions) > 0 {
		summary.DroppedAttributes = append(summary.DroppedAttributes, schema.Collisions...)
		log.Warn("attributes share a column name and are not written",
			slog.Any("attributes", schema.Collisions),
		)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	exists, err := tableExists(ctx, tx, ident)
	if err != nil {
		return nil, err
	}

	switch {
	case exists && mode == ModeFail:
		return nil, fmt.Errorf("%s: %w", ident, ErrTableExists)
	case exists:
		if err := prepareExisting(ctx, tx, schema, summary); err != nil {
			return nil, err
		}
		if mode == ModeReplace {
			if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+ident.Quoted()+" RESTART IDENTITY"); err != nil {
				return nil, classify(fmt.Errorf("truncate %s: %w", ident, err))
			}
			summary.Truncated = true
			log.Info("table truncated")
		}
	default:
		if err := createTable(ctx, tx, schema); err != nil {
			return nil, err
		}
		summary.Created = true
	}

	stmt := schema.InsertSQL()
	for i, f := range c.Features {
		if i%ContextCheckInterval == 0 && ctx.Err() != nil {
			return nil, fmt.Errorf("write %s: %w", ident, ctx.Err())
		}

		r, err := writeRow(ctx, tx, stmt, schema, i, f)
		if err != nil {
			return nil, err
		}
		if r.Outcome == Skipped {
			log.Warn("row skipped", slog.Int("row", i), slog.String("reason", r.Reason))
		}
		summary.add(r)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(fmt.Errorf("commit: %w", err))
	}

	log.Info("rows written",
		slog.Int("inserted", summary.Inserted),
		slog.Int("retried", summary.Retried),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// prepareExisting checks the SRID of an existing table and narrows the
// schema to the columns it has.
func prepareExisting(ctx context.Context, tx DBTX, schema *TableSchema, summary *WriteSummary) error {
	srid, err := tableSRID(ctx, tx, schema.Table)
	if err != nil {
		return err
	}
	if srid != 0 && srid != schema.SRID {
		return &SchemaError{
			Table: schema.Table,
			Err:   fmt.Errorf("table SRID %d does not match collection SRID %d", srid, schema.SRID),
		}
	}

	existing, err := existingColumns(ctx, tx, schema.Table)
	if err != nil {
		return err
	}
	dropped := schema.reconcile(existing)
	if len(dropped) > 0 {
		summary.DroppedAttributes = append(summary.DroppedAttributes, dropped...)
		logging.FromContext(ctx).Warn("attributes without a column are not written",
			slog.String("table", schema.Table.String()),
			slog.Any("attributes", dropped),
		)
	}
	return nil
}

// InsertSQL returns the single-row insert with the conflict-skip policy.
// The geometry parameter is EWKB hex text cast to geometry.
func (s *TableSchema) InsertSQL() string {
	names := make([]string, 0, len(s.Columns)+1)
	params := make([]string, 0, len(s.Columns)+1)
	for i, c := range s.Columns {
		names = append(names, quoteIdentifier(c.Name))
		params = append(params, fmt.Sprintf("$%d", i+1))
	}
	names = append(names, GeometryColumn)
	params = append(params, fmt.Sprintf("$%d::text::geometry", len(s.Columns)+1))

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		s.Table.Quoted(), strings.Join(names, ", "), strings.Join(params, ", "))
}

// rowArgs builds the insert parameters for f. With sanitize set, text is
// cleaned and non-finite floats become NULL.
func (s *TableSchema) rowArgs(f *feature.Feature, sanitize bool) ([]any, error) {
	args := make([]any, 0, len(s.Columns)+1)
	for _, c := range s.Columns {
		v, _ := f.Get(c.Attribute)
		if sanitize {
			v = sanitizeValue(v)
		}
		args = append(args, argFor(v, c.Kind))
	}

	if f.Geometry == nil {
		return append(args, nil), nil
	}
	g, err := geometry.EncodeHexWKB(f.Geometry, s.SRID)
	if err != nil {
		return nil, err
	}
	return append(args, g), nil
}

func writeRow(ctx context.Context, tx DBTX, stmt string, schema *TableSchema, i int, f *feature.Feature) (RowResult, error) {
	args, err := schema.rowArgs(f, false)
	if err != nil {
		return RowResult{Index: i, Outcome: Skipped, Reason: reason(err)}, nil
	}

	sp := fmt.Sprintf("sp_%d", i)
	if _, err := tx.Exec(ctx, "SAVEPOINT "+sp); err != nil {
		return RowResult{}, classify(fmt.Errorf("create savepoint: %w", err))
	}

	outcome := Inserted
	tag, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		if IsConnectivity(err) {
			return RowResult{}, classify(err)
		}
		if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
			return RowResult{}, classify(fmt.Errorf("rollback savepoint: %w", rbErr))
		}

		retryArgs, _ := schema.rowArgs(f, true)
		tag, err = tx.Exec(ctx, stmt, retryArgs...)
		if err != nil {
			if IsConnectivity(err) {
				return RowResult{}, classify(err)
			}
			if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				return RowResult{}, classify(fmt.Errorf("rollback savepoint: %w", rbErr))
			}
			_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+sp)
			return RowResult{Index: i, Outcome: Skipped, Reason: reason(err)}, nil
		}
		outcome = RetriedInserted
	}

	_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+sp)

	if tag.RowsAffected() == 0 {
		outcome = Duplicate
	}
	return RowResult{Index: i, Outcome: outcome}, nil
}

func reason(err error) string {
	return truncate.StringWithTail(err.Error(), maxReasonWidth, "...")
}
