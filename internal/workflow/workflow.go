// Package workflow owns the lifecycle of one diagnostic attempt: image
// selection, validation, submission to the remote classifier, result capture
// and reset. One Workflow instance serves one user session.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/retina-screening-gateway/internal/domain"
)

// State enumerates the workflow states. Modeling the session as a single
// enumerated state removes contradictory flag combinations such as a loading
// indicator coexisting with a rendered result.
type State string

const (
	StateIdle        State = "IDLE"
	StateReady       State = "READY"
	StateSubmitting  State = "SUBMITTING"
	StateResultReady State = "RESULT_READY"
	StateFailed      State = "FAILED"
)

// ErrSuperseded is returned to a Submit caller whose response arrived after
// the workflow had already moved on (a new image was selected mid-flight).
// The response is discarded and workflow state is untouched.
var ErrSuperseded = errors.New("submission superseded; late response discarded")

type selectedImage struct {
	name string
	data []byte
}

// Workflow is the submission state machine. All exported methods are safe for
// concurrent use; the mutex is never held across the remote call.
type Workflow struct {
	logger     *logrus.Logger
	classifier domain.Classifier
	previews   domain.PreviewDeriver

	mu            sync.Mutex
	state         State
	image         *selectedImage
	preview       domain.PreviewHandle
	result        *domain.ClassificationResult
	record        domain.PatientRecord
	failureReason string

	// epoch identifies one Submitting instance. A late response is applied
	// only if the epoch it was issued under is still current.
	epoch     uint64
	pendingID domain.ReportID
}

// New creates an idle workflow for one session.
func New(logger *logrus.Logger, classifier domain.Classifier, previews domain.PreviewDeriver) *Workflow {
	w := &Workflow{
		logger:     logger,
		classifier: classifier,
		previews:   previews,
		state:      StateIdle,
	}
	return w
}

// State returns the current workflow state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Result returns a copy of the stored classification result, or nil outside
// ResultReady.
func (w *Workflow) Result() *domain.ClassificationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	r := *w.result
	return &r
}

// Record returns the patient record captured at the last submission.
func (w *Workflow) Record() domain.PatientRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.record
}

// FailureReason returns the human-readable reason for the last failure, or ""
// outside Failed.
func (w *Workflow) FailureReason() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failureReason
}

// PreviewRef returns the display reference of the current preview, or "" when
// no image is selected.
func (w *Workflow) PreviewRef() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.preview == nil {
		return ""
	}
	return w.preview.Ref()
}

// SelectImage installs a new retinal image. Valid from any state: it derives
// a fresh preview (releasing the prior handle exactly once), discards any
// prior result or failure, and moves to Ready. An in-flight submission is not
// aborted; bumping the epoch guarantees its late response will be discarded.
func (w *Workflow) SelectImage(name string, data []byte) error {
	if len(data) == 0 {
		return domain.NewValidationError("file", "image payload is empty", name)
	}

	preview, err := w.previews.Derive(name, data)
	if err != nil {
		return fmt.Errorf("deriving preview: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.preview != nil {
		if rerr := w.preview.Release(); rerr != nil {
			w.logger.WithError(rerr).Warn("Failed to release superseded preview")
		}
	}
	w.preview = preview
	w.image = &selectedImage{name: name, data: data}
	w.result = nil
	w.failureReason = ""
	w.epoch++
	w.pendingID = ""
	w.state = StateReady

	w.logger.WithFields(logrus.Fields{
		"image": name,
		"bytes": len(data),
	}).Info("Retinal image selected")
	return nil
}

// Submit validates the record and sends the selected image to the remote
// classifier. Valid only from Ready; a concurrent submission is rejected with
// ErrAlreadyInProgress, and validation failures are rejected synchronously
// with no transition and no network call.
func (w *Workflow) Submit(ctx context.Context, record domain.PatientRecord) (*domain.ClassificationResult, error) {
	w.mu.Lock()

	if w.state == StateSubmitting {
		w.mu.Unlock()
		return nil, domain.ErrAlreadyInProgress
	}
	if w.image == nil {
		w.mu.Unlock()
		return nil, domain.NewValidationError("file", "a retinal image must be selected before submission", nil)
	}
	if w.state != StateReady {
		w.mu.Unlock()
		return nil, fmt.Errorf("submit is not valid from state %s", w.state)
	}
	if err := record.Validate(); err != nil {
		w.mu.Unlock()
		return nil, err
	}

	req := domain.SubmissionRequest{
		ReportID:  domain.NewReportID(),
		ImageName: w.image.name,
		ImageData: w.image.data,
		Record:    record,
	}
	w.record = record
	w.state = StateSubmitting
	w.epoch++
	epoch := w.epoch
	w.pendingID = req.ReportID
	w.mu.Unlock()

	w.logger.WithFields(logrus.Fields{
		"report_id": req.ReportID.String(),
		"patient":   record.Name,
	}).Info("Submitting retinal scan for classification")

	result, err := w.classifier.Classify(ctx, req)
	return w.applyOutcome(epoch, req.ReportID, result, err)
}

// applyOutcome applies a resolved submission under the stale-response guard:
// the outcome counts only if the workflow is still in the Submitting instance
// that issued it.
func (w *Workflow) applyOutcome(epoch uint64, sent domain.ReportID, result *domain.ClassificationResult, err error) (*domain.ClassificationResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateSubmitting || w.epoch != epoch || w.pendingID != sent {
		w.logger.WithField("report_id", sent.String()).
			Info("Discarding stale submission response")
		return nil, ErrSuperseded
	}
	w.pendingID = ""

	if err == nil {
		if result.ReportID != sent {
			err = &domain.CorrelationError{Sent: sent, Got: result.ReportID}
		} else if verr := result.Validate(); verr != nil {
			err = verr
		}
	}

	if err != nil {
		w.state = StateFailed
		w.failureReason = failureReason(err)
		w.result = nil
		w.logger.WithError(err).WithField("report_id", sent.String()).
			Warn("Submission failed")
		return nil, err
	}

	w.state = StateResultReady
	w.result = result
	w.failureReason = ""
	w.logger.WithFields(logrus.Fields{
		"report_id":      result.ReportID.String(),
		"is_safe":        result.IsSafe,
		"severity_index": result.SeverityIndex,
		"risk_score":     result.RiskScore,
	}).Info("Classification result received")

	r := *result
	return &r, nil
}

// Reset discards the current result or failure and returns to Ready. The
// image, preview and form fields survive, enabling a fresh submission without
// re-upload. Valid only from ResultReady or Failed.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateResultReady && w.state != StateFailed {
		return fmt.Errorf("reset is not valid from state %s", w.state)
	}
	w.result = nil
	w.failureReason = ""
	w.epoch++
	w.pendingID = ""
	w.state = StateReady
	return nil
}

// AttachDocument fills in the asynchronously generated document reference.
// Applied only when the stored result still matches id; reports whether the
// reference was attached.
func (w *Workflow) AttachDocument(id domain.ReportID, ref string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.result == nil || w.result.ReportID != id || ref == "" {
		return false
	}
	w.result.DocumentRef = ref
	return true
}

// Close releases the preview handle. The workflow must not be used after
// Close.
func (w *Workflow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.preview == nil {
		return nil
	}
	err := w.preview.Release()
	w.preview = nil
	return err
}

// failureReason maps an error onto the actionable message shown alongside the
// Failed state.
func failureReason(err error) string {
	var te *domain.TransportError
	var ce *domain.CorrelationError
	switch {
	case errors.As(err, &te):
		return te.Reason
	case errors.As(err, &ce):
		return "The diagnostic service returned a response for a different submission. Please resubmit."
	case errors.Is(err, domain.ErrInconsistentResult):
		return "The diagnostic service returned inconsistent results. Please resubmit."
	case errors.Is(err, domain.ErrMalformedResponse), errors.Is(err, domain.ErrInvalidSeverityIndex):
		return "The diagnostic service returned an unreadable response. Please resubmit."
	default:
		return "Could not reach the diagnostic service. Please check the connection and resubmit."
	}
}
