// Package store holds the append-only extraction history of every school.
// Records are never updated in place: each Put adds a version and GetLatest
// picks the newest successful one.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/school-intel/internal/model"
)

// Store is the record store used by the pipeline, comparison, summary and
// export stages.
type Store interface {
	// RegisterSchool records school metadata. The first registration fixes
	// the school's position in ListSchools; later calls update name and URLs.
	RegisterSchool(ctx context.Context, school model.School) error
	// Put appends a new ExtractionResult version for the school, registering
	// the school if it is unknown.
	Put(ctx context.Context, schoolID string, res *model.ExtractionResult) error
	// GetLatest returns the newest valid or repaired result. When only failed
	// results exist the newest failed one is returned together with
	// model.ErrNoSuccessfulExtraction. model.ErrSchoolNotFound means there is
	// no result at all.
	GetLatest(ctx context.Context, schoolID string) (*model.ExtractionResult, error)
	// History returns every stored version, oldest first.
	History(ctx context.Context, schoolID string) ([]*model.ExtractionResult, error)
	// ListSchools returns school IDs in insertion order.
	ListSchools(ctx context.Context) ([]string, error)
	// GetSchool returns the school's metadata.
	GetSchool(ctx context.Context, schoolID string) (*model.School, error)

	Migrate(ctx context.Context) error
	Close() error
}

func checkPut(schoolID string, res *model.ExtractionResult) error {
	if schoolID == "" {
		return eris.New("store: empty school id")
	}
	if res == nil {
		return eris.New("store: nil extraction result")
	}
	if res.SchoolID != "" && res.SchoolID != schoolID {
		return eris.Errorf("store: result for %q put under %q", res.SchoolID, schoolID)
	}
	if res.Record == nil {
		return eris.Errorf("store: result for %q has no record", schoolID)
	}
	return nil
}

// stamp returns the stored copy of res.
func stamp(schoolID string, res *model.ExtractionResult) *model.ExtractionResult {
	cp := res.Clone()
	cp.SchoolID = schoolID
	cp.ExtractedAt = cp.ExtractedAt.UTC()
	return cp
}

// pickLatest selects the GetLatest answer from a history ordered oldest
// first. Ties on extracted_at go to the later write.
func pickLatest(schoolID string, history []*model.ExtractionResult) (*model.ExtractionResult, error) {
	if len(history) == 0 {
		return nil, eris.Wrapf(model.ErrSchoolNotFound, "store: %s", schoolID)
	}
	idx := make([]int, len(history))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return history[idx[a]].ExtractedAt.After(history[idx[b]].ExtractedAt) ||
			(history[idx[a]].ExtractedAt.Equal(history[idx[b]].ExtractedAt) && idx[a] > idx[b])
	})
	for _, i := range idx {
		if history[i].Succeeded() {
			return history[i].Clone(), nil
		}
	}
	return history[idx[0]].Clone(), eris.Wrapf(model.ErrNoSuccessfulExtraction, "store: %s", schoolID)
}

func laterOf(cur *time.Time, t time.Time) *time.Time {
	if cur != nil && !t.After(*cur) {
		return cur
	}
	t = t.UTC()
	return &t
}
