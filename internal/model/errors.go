package model

import "github.com/rotisserie/eris"

// Failure taxonomy shared by the pipeline packages. Match with eris.Is.
var (
	// ErrFetch means the source could not be fetched. Not retried here; the
	// school is treated as having no data.
	ErrFetch = eris.New("fetch failed")
	// ErrEmptyDocument means normalization produced no content. It is a
	// reportable state, not a failure of the pipeline.
	ErrEmptyDocument = eris.New("empty document")
	// ErrExtractionParse means the model output could not be parsed as
	// structured data.
	ErrExtractionParse = eris.New("extraction output not parseable")
	// ErrExtractionTimeout means a model call exceeded its deadline. It
	// counts as a parse failure toward the retry bound.
	ErrExtractionTimeout = eris.New("extraction call timed out")
	// ErrSchemaViolation marks a field that did not match its declared shape.
	ErrSchemaViolation = eris.New("schema violation")
	// ErrSummarization means a summary call failed after its retry bound.
	ErrSummarization = eris.New("summarization failed")
	// ErrExportInconsistency means a stored record is missing schema keys.
	ErrExportInconsistency = eris.New("record fails schema completeness")
	// ErrNoSuccessfulExtraction accompanies a failed result returned by
	// GetLatest when no valid or repaired version exists.
	ErrNoSuccessfulExtraction = eris.New("no successful extraction")
	// ErrSchoolNotFound means the store holds nothing for the school.
	ErrSchoolNotFound = eris.New("school not found")
)
