package pipeline

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/school-intel/internal/compare"
	"github.com/sells-group/school-intel/internal/export"
	"github.com/sells-group/school-intel/internal/model"
	"github.com/sells-group/school-intel/internal/store"
	"github.com/sells-group/school-intel/internal/summarize"
)

// ErrUnavailable is returned by operations whose component was not wired,
// e.g. extraction without a model key.
var ErrUnavailable = eris.New("operation not configured")

// Service is the operation surface shared by the CLI and the HTTP API.
// Orchestrator and Summarizer may be nil in store-only deployments.
type Service struct {
	Store        store.Store
	Orchestrator *Orchestrator
	Compare      *compare.Engine
	Summarizer   *summarize.Summarizer
	Exporter     *export.Exporter
	SheetMode    export.SheetMode
}

// ListSchools returns every known school in registration order.
func (s *Service) ListSchools(ctx context.Context) ([]model.School, error) {
	ids, err := s.Store.ListSchools(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "service: list schools")
	}
	out := make([]model.School, 0, len(ids))
	for _, id := range ids {
		sc, err := s.Store.GetSchool(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "service: get school %s", id)
		}
		out = append(out, *sc)
	}
	return out, nil
}

// GetLatest returns the latest result of a school. When the school has only
// failed extractions the latest failed result is returned together with
// model.ErrNoSuccessfulExtraction.
func (s *Service) GetLatest(ctx context.Context, schoolID string) (*model.ExtractionResult, error) {
	return s.Store.GetLatest(ctx, schoolID)
}

// RegisterSchools adds or refreshes schools in the store.
func (s *Service) RegisterSchools(ctx context.Context, schools []model.School) error {
	for _, sc := range schools {
		if err := s.Store.RegisterSchool(ctx, sc); err != nil {
			return eris.Wrapf(err, "service: register %s", sc.ID)
		}
	}
	return nil
}

// RunExtraction runs the pipeline for registered schools by ID. An empty
// list means every registered school.
func (s *Service) RunExtraction(ctx context.Context, schoolIDs []string) (*RunReport, error) {
	if s.Orchestrator == nil {
		return nil, eris.Wrap(ErrUnavailable, "service: extraction")
	}
	schools, err := s.resolve(ctx, schoolIDs)
	if err != nil {
		return nil, err
	}
	return s.Orchestrator.RunExtraction(ctx, schools)
}

// RunSchools runs the pipeline for the given schools, registering them
// first.
func (s *Service) RunSchools(ctx context.Context, schools []model.School) (*RunReport, error) {
	if s.Orchestrator == nil {
		return nil, eris.Wrap(ErrUnavailable, "service: extraction")
	}
	if err := s.RegisterSchools(ctx, schools); err != nil {
		return nil, err
	}
	return s.Orchestrator.RunExtraction(ctx, schools)
}

// CompareSchools builds a comparison matrix from selector strings.
func (s *Service) CompareSchools(ctx context.Context, schoolIDs, selectors []string) (*compare.Matrix, error) {
	sels, err := compare.ExpandSelectors(s.Compare.Schema(), selectors)
	if err != nil {
		return nil, err
	}
	ids, err := s.ids(ctx, schoolIDs)
	if err != nil {
		return nil, err
	}
	return s.Compare.Compare(ctx, ids, sels)
}

// SummarizeSchool writes a single-school summary.
func (s *Service) SummarizeSchool(ctx context.Context, schoolID string) (*model.SummaryReport, error) {
	if s.Summarizer == nil {
		return nil, eris.Wrap(ErrUnavailable, "service: summarize")
	}
	report, _, err := s.Summarizer.SummarizeSchool(ctx, schoolID)
	return report, err
}

// SummarizeMarket writes a batched market summary.
func (s *Service) SummarizeMarket(ctx context.Context, schoolIDs []string) (*model.SummaryReport, error) {
	if s.Summarizer == nil {
		return nil, eris.Wrap(ErrUnavailable, "service: summarize")
	}
	ids, err := s.ids(ctx, schoolIDs)
	if err != nil {
		return nil, err
	}
	report, _, err := s.Summarizer.SummarizeMarket(ctx, ids)
	return report, err
}

// ExportJSON renders export documents; see export.Exporter.ExportJSON.
func (s *Service) ExportJSON(ctx context.Context, schoolIDs []string, combined bool) (map[string][]byte, error) {
	ids, err := s.ids(ctx, schoolIDs)
	if err != nil {
		return nil, err
	}
	return s.Exporter.ExportJSON(ctx, ids, combined)
}

// ExportSpreadsheet writes a comparison workbook to w.
func (s *Service) ExportSpreadsheet(ctx context.Context, w io.Writer, schoolIDs, selectors []string) error {
	sels, err := compare.ExpandSelectors(s.Compare.Schema(), selectors)
	if err != nil {
		return err
	}
	ids, err := s.ids(ctx, schoolIDs)
	if err != nil {
		return err
	}
	return export.Spreadsheet(ctx, w, s.Compare, ids, sels, s.SheetMode)
}

// ImportJSON loads exported documents back into the store as new versions.
// Each document's school is registered when unknown. It returns the number
// of results written.
func (s *Service) ImportJSON(ctx context.Context, data []byte) (int, error) {
	results, err := export.ImportJSON(s.Compare.Schema(), data)
	if err != nil {
		return 0, err
	}
	for i, res := range results {
		if _, err := s.Store.GetSchool(ctx, res.SchoolID); err != nil {
			if !eris.Is(err, model.ErrSchoolNotFound) {
				return i, eris.Wrapf(err, "service: import %s", res.SchoolID)
			}
			if err := s.Store.RegisterSchool(ctx, model.School{ID: res.SchoolID, Name: res.SchoolID}); err != nil {
				return i, eris.Wrapf(err, "service: register %s", res.SchoolID)
			}
		}
		if err := s.Store.Put(ctx, res.SchoolID, res); err != nil {
			return i, eris.Wrapf(err, "service: import %s", res.SchoolID)
		}
	}
	return len(results), nil
}

// ids defaults an empty selection to every registered school and drops
// repeated IDs, keeping the first occurrence.
func (s *Service) ids(ctx context.Context, schoolIDs []string) ([]string, error) {
	if len(schoolIDs) > 0 {
		seen := make(map[string]bool, len(schoolIDs))
		out := make([]string, 0, len(schoolIDs))
		for _, id := range schoolIDs {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		return out, nil
	}
	ids, err := s.Store.ListSchools(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "service: list schools")
	}
	return ids, nil
}

func (s *Service) resolve(ctx context.Context, schoolIDs []string) ([]model.School, error) {
	ids, err := s.ids(ctx, schoolIDs)
	if err != nil {
		return nil, err
	}
	out := make([]model.School, 0, len(ids))
	for _, id := range ids {
		sc, err := s.Store.GetSchool(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "service: resolve %s", id)
		}
		if len(sc.SourceURLs) == 0 {
			return nil, eris.Errorf("service: school %s has no source urls", id)
		}
		out = append(out, *sc)
	}
	return out, nil
}
