package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/datastore"
	"github.com/danthegoodman1/deltabase/engine"
	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/metastore"
	"github.com/danthegoodman1/deltabase/parquet_accumulator"
	"github.com/danthegoodman1/deltabase/part"
	"github.com/danthegoodman1/deltabase/partitioner"
	"github.com/danthegoodman1/deltabase/table"
	"github.com/danthegoodman1/deltabase/utils"
)

type (
	CommitOptions struct {
		// Force permits dropping or retyping columns of the previous version
		Force bool
		// PartitionBy lists the columns the version's files are partitioned by, in order
		PartitionBy []string
		// Tag labels the version for Checkout
		Tag string
	}

	partFile struct {
		part   part.Part
		file   *os.File
		writer *parquet_accumulator.PartWriter
	}
)

// Commit persists the full current content of the table as a new version.
// A table deleted from the registry has its persisted location removed.
// On error nothing is persisted and the entry is unchanged.
func (s *Store) Commit(ctx context.Context, id table.ID, opts CommitOptions) error {
	if err := id.Validate(); err != nil {
		return invalidArgument("%s", err)
	}
	ctx = gologger.WithTable(ctx, id.Namespace, id.Name)

	prevVersion, hasPrev, err := s.latest(ctx, id)
	if err != nil {
		return err
	}

	e, ok := s.registry.Get(id)
	if !ok {
		return s.dropPersisted(ctx, id, hasPrev)
	}

	schema, err := s.engine.Describe(ctx, e.Plan)
	if err != nil {
		return storageFailure(err, "error describing %s", id)
	}
	if hasPrev && !opts.Force {
		if err := compatible(prevVersion.Schema(), schema); err != nil {
			return err
		}
	}

	var plans []partitioner.PartitionPlan
	if len(opts.PartitionBy) > 0 {
		plans, err = partitioner.Plan(schema, opts.PartitionBy)
		if err != nil {
			return invalidArgument("bad partition columns %v: %s", opts.PartitionBy, err)
		}
	}

	next := int64(0)
	if hasPrev {
		next = prevVersion.Version + 1
	}
	acc := parquet_accumulator.NewAccumulatorForSchema(schema)
	if err := s.storeNonFiniteAsString(ctx, e.Plan, &acc); err != nil {
		return err
	}
	versionDir := datastore.Join(metastore.TableLocation(id), fmt.Sprintf("v%d", next))

	parts, err := s.writeParts(ctx, e.Plan, &acc, plans, versionDir)
	if err != nil {
		s.cleanup(ctx, parts)
		return err
	}

	v := metastore.Version{
		Namespace:   id.Namespace,
		Table:       id.Name,
		Version:     next,
		CommittedAt: time.Now().UTC(),
		Operation:   metastore.OperationWrite,
		Tag:         opts.Tag,
		Force:       opts.Force,
		Columns:     acc.Mapping(),
		PartitionBy: opts.PartitionBy,
		Parts:       parts,
	}
	if err := s.ms.CommitVersion(ctx, v); err != nil {
		s.cleanup(ctx, parts)
		if errors.Is(err, metastore.ErrVersionExists) {
			return storageFailure(err, "version %d of %s was committed concurrently", next, id)
		}
		return storageFailure(err, "error committing version %d of %s", next, id)
	}
	l := zerolog.Ctx(ctx).With().Int64("version", next).Logger()
	l.Debug().Int("parts", len(parts)).Int64("rows", v.RowCount()).Msg("committed version")

	// the entry now reads what was just written
	p, err := s.versionPlan(ctx, v)
	if err != nil {
		l.Warn().Err(err).Msg("error reading back committed version, keeping the staged plan")
		staged := *e
		staged.Version = &next
		staged.reconcile = false
		s.registry.put(&staged)
		return nil
	}
	s.swap(ctx, &Entry{ID: id, Plan: p, Schema: v.Schema(), Version: &next})
	return nil
}

// latest returns the latest persisted version of id, if any.
func (s *Store) latest(ctx context.Context, id table.ID) (metastore.Version, bool, error) {
	v, err := s.ms.LatestVersion(ctx, id)
	if errors.Is(err, metastore.ErrTableNotFound) {
		return metastore.Version{}, false, nil
	}
	if err != nil {
		return metastore.Version{}, false, storageFailure(err, "error reading latest version of %s", id)
	}
	return v, true, nil
}

func (s *Store) dropPersisted(ctx context.Context, id table.ID, hasVersions bool) error {
	location := metastore.TableLocation(id)
	hasFiles, err := s.ds.Exists(ctx, location)
	if err != nil {
		return storageFailure(err, "error checking %s", location)
	}
	if !hasVersions && !hasFiles {
		return notFound("table %s does not exist", id)
	}
	if hasVersions {
		if err := s.ms.DeleteTable(ctx, id); err != nil {
			return storageFailure(err, "error deleting versions of %s", id)
		}
	}
	if hasFiles {
		if err := s.ds.DeletePrefix(ctx, location); err != nil {
			return storageFailure(err, "error deleting %s", location)
		}
	}
	zerolog.Ctx(ctx).Debug().Msg("removed persisted table")
	return nil
}

// compatible requires every column of prev to exist in next with the same type.
func compatible(prev, next table.Schema) error {
	var problems []string
	for _, col := range prev {
		nc, ok := next.Lookup(col.Name)
		if !ok {
			problems = append(problems, fmt.Sprintf("column %q removed", col.Name))
			continue
		}
		if !strings.EqualFold(nc.Type, col.Type) {
			problems = append(problems, fmt.Sprintf("column %q changed from %s to %s", col.Name, col.Type, nc.Type))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s (commit with force to allow)", ErrSchemaMismatch, strings.Join(problems, ", "))
	}
	return nil
}

// storeNonFiniteAsString moves float columns holding NaN or infinity to the
// VARCHAR physical form, which parquet-go cannot take as JSON numbers.
func (s *Store) storeNonFiniteAsString(ctx context.Context, p engine.Plan, acc *parquet_accumulator.ParquetSchemaAccumulator) error {
	var floats []part.ColumnMapping
	for _, m := range acc.Mapping() {
		if m.PhysicalType == parquet_accumulator.PhysicalDouble {
			floats = append(floats, m)
		}
	}
	if len(floats) == 0 {
		return nil
	}
	exprs := make([]string, len(floats))
	for i, m := range floats {
		exprs[i] = fmt.Sprintf("coalesce(bool_or(NOT isfinite(CAST(%s AS DOUBLE))), false)", engine.QuoteIdent(m.Name))
	}
	f, err := s.engine.Collect(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), p.SQL()))
	if err != nil {
		return storageFailure(err, "error checking float columns")
	}
	if len(f.Rows) == 0 {
		return nil
	}
	for i, m := range floats {
		if nonFinite, _ := f.Rows[0][i].(bool); nonFinite {
			acc.StoreAsString(m.Name)
			zerolog.Ctx(ctx).Debug().Str("column", m.Name).Msg("storing non finite floats as VARCHAR")
		}
	}
	return nil
}

// writeParts writes the rows of p as parquet files under dir, one file per
// partition, and uploads them. On error the parts uploaded so far are returned.
func (s *Store) writeParts(ctx context.Context, p engine.Plan, acc *parquet_accumulator.ParquetSchemaAccumulator, plans []partitioner.PartitionPlan, dir string) ([]part.Part, error) {
	tmpDir, err := os.MkdirTemp("", "deltabase-commit-")
	if err != nil {
		return nil, storageFailure(err, "error creating temp dir")
	}
	defer os.RemoveAll(tmpDir)

	selects := make([]string, 0, len(plans)+1)
	orderBy := make([]string, 0, len(plans))
	for _, plan := range plans {
		selects = append(selects, engine.QuoteIdent(plan.Column))
		orderBy = append(orderBy, engine.QuoteIdent(plan.Column))
	}
	selects = append(selects, acc.SelectList())
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), p.SQL())
	if len(orderBy) > 0 {
		q += " ORDER BY " + strings.Join(orderBy, ", ")
	}

	files := map[string]*partFile{}
	closeAll := func() {
		for _, pf := range files {
			pf.file.Close()
		}
	}

	_, err = s.engine.Scan(ctx, q, func(vals []any) error {
		partition := ""
		if len(plans) > 0 {
			var err error
			partition, err = partitioner.GetRowPartition(vals[:len(plans)], plans)
			if err != nil {
				return fmt.Errorf("error in GetRowPartition: %w", err)
			}
		}
		pf, ok := files[partition]
		if !ok {
			f, err := os.CreateTemp(tmpDir, "part-*.parquet")
			if err != nil {
				return fmt.Errorf("error in os.CreateTemp: %w", err)
			}
			w, err := acc.NewPartWriter(f)
			if err != nil {
				f.Close()
				return err
			}
			partID := utils.GenKSortedID("")
			pf = &partFile{
				part: part.Part{
					ID:        partID,
					Key:       datastore.Join(dir, partition, partID+".parquet"),
					Partition: partition,
					CreatedAt: time.Now().UTC(),
				},
				file:   f,
				writer: w,
			}
			files[partition] = pf
		}
		return pf.writer.Write(vals[len(plans):])
	})
	if err != nil {
		closeAll()
		if errors.Is(err, parquet_accumulator.ErrNonFiniteFloat) {
			return nil, invalidArgument("%s", err)
		}
		return nil, storageFailure(err, "error writing parquet files")
	}

	parts := make([]part.Part, 0, len(files))
	for _, pf := range files {
		np, err := s.upload(ctx, pf)
		if err != nil {
			closeAll()
			return append(parts, pf.part), err
		}
		parts = append(parts, np)
	}
	closeAll()
	sort.Slice(parts, func(i, j int) bool { return parts[i].Key < parts[j].Key })
	return parts, nil
}

func (s *Store) upload(ctx context.Context, pf *partFile) (part.Part, error) {
	if err := pf.writer.Close(); err != nil {
		return part.Part{}, storageFailure(err, "error finishing %s", pf.part.Key)
	}
	if _, err := pf.file.Seek(0, 0); err != nil {
		return part.Part{}, storageFailure(err, "error rewinding %s", pf.file.Name())
	}
	n, err := s.ds.WriteFile(ctx, pf.part.Key, pf.file)
	if err != nil {
		return part.Part{}, storageFailure(err, "error uploading %s", pf.part.Key)
	}
	np := pf.part
	np.RowCount = pf.writer.NumRows()
	np.Bytes = n
	return np, nil
}

// cleanup removes the data files of a version that was not committed.
func (s *Store) cleanup(ctx context.Context, parts []part.Part) {
	for _, p := range parts {
		if err := s.ds.DeletePrefix(ctx, p.Key); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("key", p.Key).Msg("error cleaning up uncommitted file")
		}
	}
}
