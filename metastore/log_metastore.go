package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danthegoodman1/deltabase/datastore"
	"github.com/danthegoodman1/deltabase/table"
)

const LogDir = "_delta_log"

type (
	// LogMetaStore keeps one JSON entry per version next to the table's data:
	// <namespace>/<table>/_delta_log/<00000000000000000042>.json
	LogMetaStore struct {
		ds datastore.DataStore
	}
)

func NewLogMetaStore(ds datastore.DataStore) *LogMetaStore {
	return &LogMetaStore{ds: ds}
}

// TableLocation is the datastore prefix owned by a table.
func TableLocation(id table.ID) string {
	return datastore.Join(id.Namespace, id.Name)
}

func LogKey(id table.ID, version int64) string {
	return datastore.Join(TableLocation(id), LogDir, fmt.Sprintf("%020d.json", version))
}

func (lms *LogMetaStore) ListTables(ctx context.Context) ([]table.ID, error) {
	namespaces, err := lms.ds.ListDirs(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("error listing namespaces: %w", err)
	}
	var ids []table.ID
	for _, ns := range namespaces {
		tables, err := lms.ds.ListDirs(ctx, ns)
		if err != nil {
			return nil, fmt.Errorf("error listing tables of %s: %w", ns, err)
		}
		for _, name := range tables {
			id := table.ID{Namespace: ns, Name: name}
			if id.Validate() != nil {
				continue
			}
			exists, err := lms.ds.Exists(ctx, datastore.Join(TableLocation(id), LogDir))
			if err != nil {
				return nil, err
			}
			if exists {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (lms *LogMetaStore) versionNumbers(ctx context.Context, id table.ID) ([]int64, error) {
	files, err := lms.ds.ListFiles(ctx, datastore.Join(TableLocation(id), LogDir))
	if err != nil {
		return nil, fmt.Errorf("error listing version log of %s: %w", id, err)
	}
	var nums []int64
	for _, f := range files {
		name := path.Base(f)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

func (lms *LogMetaStore) ListVersions(ctx context.Context, id table.ID) ([]Version, error) {
	nums, err := lms.versionNumbers(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	versions := make([]Version, 0, len(nums))
	for _, n := range nums {
		v, err := lms.GetVersion(ctx, id, n)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (lms *LogMetaStore) GetVersion(ctx context.Context, id table.ID, version int64) (Version, error) {
	var v Version
	b, err := lms.ds.ReadFile(ctx, LogKey(id, version))
	if err != nil {
		if errors.Is(err, datastore.ErrNotExist) {
			return v, fmt.Errorf("%w: %s@%d", ErrVersionNotFound, id, version)
		}
		return v, fmt.Errorf("error reading version %d of %s: %w", version, id, err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("error in json.Unmarshal of version %d of %s: %w", version, id, err)
	}
	return v, nil
}

func (lms *LogMetaStore) LatestVersion(ctx context.Context, id table.ID) (Version, error) {
	nums, err := lms.versionNumbers(ctx, id)
	if err != nil {
		return Version{}, err
	}
	if len(nums) == 0 {
		return Version{}, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	return lms.GetVersion(ctx, id, nums[len(nums)-1])
}

func (lms *LogMetaStore) CommitVersion(ctx context.Context, v Version) error {
	logger := zerolog.Ctx(ctx)
	if err := v.Validate(); err != nil {
		return err
	}
	nums, err := lms.versionNumbers(ctx, v.ID())
	if err != nil {
		return err
	}
	expected := int64(0)
	if len(nums) > 0 {
		expected = nums[len(nums)-1] + 1
	}
	if v.Version != expected {
		return fmt.Errorf("%w: %s@%d, next version is %d", ErrVersionExists, v.ID(), v.Version, expected)
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	if err := lms.ds.CreateFile(ctx, LogKey(v.ID(), v.Version), b); err != nil {
		if errors.Is(err, datastore.ErrExists) {
			return fmt.Errorf("%w: %s@%d", ErrVersionExists, v.ID(), v.Version)
		}
		return fmt.Errorf("error writing version log entry: %w", err)
	}
	logger.Debug().Str("table", v.ID().String()).Int64("version", v.Version).Msg("appended version log entry")
	return nil
}

func (lms *LogMetaStore) DeleteTable(ctx context.Context, id table.ID) error {
	return lms.ds.DeletePrefix(ctx, datastore.Join(TableLocation(id), LogDir))
}

func (lms *LogMetaStore) Shutdown(context.Context) error {
	return nil
}
