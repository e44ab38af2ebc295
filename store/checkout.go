package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/gologger"
	"github.com/danthegoodman1/deltabase/metastore"
	"github.com/danthegoodman1/deltabase/table"
)

type (
	// Selector picks one persisted version. It is AtVersion, AtTime or AtTag.
	Selector interface {
		String() string
		isSelector()
	}

	// AtVersion selects a version by ordinal.
	AtVersion int64
	// AtTime selects the latest version committed at or before the time.
	AtTime time.Time
	// AtTag selects the latest version committed with the tag.
	AtTag string

	RegisterOptions struct {
		// Data becomes the table's content. When nil the table is loaded from storage.
		Data Input
		// Version selects the persisted version to load, nil means the latest
		Version Selector
	}
)

func (AtVersion) isSelector() {}
func (AtTime) isSelector()    {}
func (AtTag) isSelector()     {}

func (v AtVersion) String() string {
	return strconv.FormatInt(int64(v), 10)
}

func (t AtTime) String() string {
	return time.Time(t).Format(time.RFC3339Nano)
}

func (t AtTag) String() string {
	return string(t)
}

// ParseSelector reads an integer as an ordinal, an RFC3339 timestamp as a
// time and anything else as a tag.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalidArgument("empty version selector")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return nil, invalidArgument("negative version %d", n)
		}
		return AtVersion(n), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return AtTime(t), nil
	}
	return AtTag(s), nil
}

// Register sets the table's entry. With Data the data replaces the entry
// directly, otherwise the selected persisted version is loaded.
func (s *Store) Register(ctx context.Context, id table.ID, opts RegisterOptions) error {
	if err := id.Validate(); err != nil {
		return invalidArgument("%s", err)
	}
	ctx = gologger.WithTable(ctx, id.Namespace, id.Name)

	if opts.Data == nil {
		sel := opts.Version
		if sel == nil {
			v, hasVersion, err := s.latest(ctx, id)
			if err != nil {
				return err
			}
			if !hasVersion {
				return notFound("no data given and %s has no persisted versions", id)
			}
			return s.loadVersion(ctx, v)
		}
		return s.Checkout(ctx, id, sel)
	}

	p, schema, err := s.stage(ctx, opts.Data, nil)
	if err != nil {
		return err
	}
	s.swap(ctx, &Entry{ID: id, Plan: p, Schema: schema, reconcile: true})
	zerolog.Ctx(ctx).Debug().Int("columns", len(schema)).Msg("registered data")
	return nil
}

// Checkout replaces the entry with the content of a persisted version,
// discarding uncommitted changes. Persisted versions are never changed.
func (s *Store) Checkout(ctx context.Context, id table.ID, sel Selector) error {
	if err := id.Validate(); err != nil {
		return invalidArgument("%s", err)
	}
	if sel == nil {
		return invalidArgument("a version selector is required")
	}
	ctx = gologger.WithTable(ctx, id.Namespace, id.Name)

	v, err := s.resolve(ctx, id, sel)
	if err != nil {
		return err
	}
	return s.loadVersion(ctx, v)
}

func (s *Store) resolve(ctx context.Context, id table.ID, sel Selector) (metastore.Version, error) {
	if n, ok := sel.(AtVersion); ok {
		v, err := s.ms.GetVersion(ctx, id, int64(n))
		if errors.Is(err, metastore.ErrVersionNotFound) || errors.Is(err, metastore.ErrTableNotFound) {
			return metastore.Version{}, notFound("version %d of %s", n, id)
		}
		if err != nil {
			return metastore.Version{}, storageFailure(err, "error reading version %d of %s", n, id)
		}
		return v, nil
	}

	versions, err := s.History(ctx, id)
	if err != nil {
		return metastore.Version{}, err
	}
	var (
		found metastore.Version
		ok    bool
	)
	for _, v := range versions {
		switch t := sel.(type) {
		case AtTime:
			if !v.CommittedAt.After(time.Time(t)) {
				found, ok = v, true
			}
		case AtTag:
			if v.Tag == string(t) {
				found, ok = v, true
			}
		default:
			return metastore.Version{}, invalidArgument("unsupported selector %T", sel)
		}
	}
	if !ok {
		return metastore.Version{}, notFound("no version of %s matches %s", id, sel)
	}
	return found, nil
}

// History lists the persisted versions of a table, oldest first.
func (s *Store) History(ctx context.Context, id table.ID) ([]metastore.Version, error) {
	if err := id.Validate(); err != nil {
		return nil, invalidArgument("%s", err)
	}
	versions, err := s.ms.ListVersions(ctx, id)
	if errors.Is(err, metastore.ErrTableNotFound) {
		return nil, notFound("%s has no persisted versions", id)
	}
	if err != nil {
		return nil, storageFailure(err, "error listing versions of %s", id)
	}
	return versions, nil
}
