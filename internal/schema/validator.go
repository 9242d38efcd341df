// Package schema checks that stored recognition results carry the structure
// the transcript stages depend on.
package schema

import (
	"errors"
	"fmt"

	"transcript-pipeline-service/internal/models"
)

// ErrMalformedResult is returned for recognition results missing a field the
// pipeline requires. Payload shape is only enforced here, never at the
// callback boundary.
var ErrMalformedResult = errors.New("malformed recognition result")

// Validator checks recognition documents.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate ensures the first result group has a speaker list and that every
// utterance has a first alternative with at least one timestamp.
func (v *Validator) Validate(doc *models.RecognitionDocument) error {
	if err := v.ValidateUtterances(doc); err != nil {
		return err
	}
	if doc.Results[0].SpeakerLabels == nil {
		return fmt.Errorf("%w: speaker_labels missing", ErrMalformedResult)
	}
	return nil
}

// ValidateUtterances checks everything Validate does except the speaker list,
// which the editor does not need.
func (v *Validator) ValidateUtterances(doc *models.RecognitionDocument) error {
	if doc == nil || len(doc.Results) == 0 {
		return fmt.Errorf("%w: results is empty", ErrMalformedResult)
	}
	group := doc.Results[0]
	if group.Results == nil {
		return fmt.Errorf("%w: results[0].results missing", ErrMalformedResult)
	}
	for i, u := range group.Results {
		if len(u.Alternatives) == 0 {
			return fmt.Errorf("%w: utterance %d has no alternatives", ErrMalformedResult, i)
		}
		if len(u.Alternatives[0].Timestamps) == 0 {
			return fmt.Errorf("%w: utterance %d has no timestamps", ErrMalformedResult, i)
		}
	}
	return nil
}

// SpeakersOrdered reports whether speaker segment start times are
// non-decreasing, which the speaker lookup assumes.
func (v *Validator) SpeakersOrdered(doc *models.RecognitionDocument) bool {
	labels := doc.Results[0].SpeakerLabels
	for i := 1; i < len(labels); i++ {
		if labels[i].From.LessThan(labels[i-1].From.Decimal) {
			return false
		}
	}
	return true
}
