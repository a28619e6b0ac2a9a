package domain

import "context"

// SubmissionRequest is the outgoing payload for one classification attempt:
// the raw image plus intake metadata and the client-generated correlation id.
type SubmissionRequest struct {
	ReportID  ReportID
	ImageName string
	ImageData []byte
	Record    PatientRecord
}

// Classifier is the remote diagnostic service as seen by the workflow. It
// accepts an image with patient metadata and returns a classification, or a
// transport, malformed-response or correlation error.
type Classifier interface {
	Classify(ctx context.Context, req SubmissionRequest) (*ClassificationResult, error)
}

// DocumentFetcher retrieves the asynchronously generated report document
// reference. An empty ref with a nil error means generation is still in
// progress.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, id ReportID) (string, error)
}

// Archive is the persistent history collaborator. ListReports returns the
// authoritative record list, newest first.
type Archive interface {
	ListReports(ctx context.Context) ([]HistoryEntry, error)
}

// PreviewHandle is a transient, locally derived preview of the selected
// image. It is exclusively owned by the workflow and must be released exactly
// once when superseded or when the workflow is torn down.
type PreviewHandle interface {
	// Ref returns a location usable by the display layer.
	Ref() string
	// Release frees the backing resource. Safe to call once only through the
	// owning workflow; the workflow guarantees release-once.
	Release() error
}

// PreviewDeriver turns raw image bytes into a transient preview handle.
type PreviewDeriver interface {
	Derive(name string, data []byte) (PreviewHandle, error)
}
