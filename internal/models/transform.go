package models

import (
	"encoding/json"
	"math"

	"github.com/desertthunder/stemx/internal/shared"
)

// Operation names a transformation kind.
type Operation string

const (
	OpSeparate  Operation = "separate"
	OpTranspose Operation = "transpose"
	OpTempo     Operation = "tempo"
)

// Path returns the submission endpoint for the operation.
func (o Operation) Path() string {
	return "/api/audio/" + string(o)
}

// ParseOperation maps a user-supplied name onto an [Operation].
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpSeparate, OpTranspose, OpTempo:
		return Operation(s), nil
	}
	return "", shared.NewValidationError("operation", "unknown operation %q (want separate, transpose or tempo)", s)
}

const (
	ModelHTDemucs   = "htdemucs"
	ModelHTDemucsFT = "htdemucs_ft"

	DefaultSeparationModel = ModelHTDemucs
	DefaultStemCount       = 4

	MinSemitones = -12
	MaxSemitones = 12

	MinTempoFactor = 0.5
	MaxTempoFactor = 2.0
)

// TransformRequest is one of [Separation], [Transpose] or [Tempo].
//
// The set is closed: only types in this package satisfy it.
type TransformRequest interface {
	Kind() Operation
	Validate() error
	// Body returns the JSON payload for fileID.
	Body(fileID string) ([]byte, error)

	isTransform()
}

// Separation splits a track into stems with the given model.
type Separation struct {
	Model string
	Stems int
}

// NewSeparation returns a [Separation] with empty fields filled from the defaults.
func NewSeparation(model string, stems int) Separation {
	if model == "" {
		model = DefaultSeparationModel
	}
	if stems == 0 {
		stems = DefaultStemCount
	}
	return Separation{Model: model, Stems: stems}
}

func (Separation) Kind() Operation { return OpSeparate }
func (Separation) isTransform()    {}

func (s Separation) Validate() error {
	if s.Model != ModelHTDemucs && s.Model != ModelHTDemucsFT {
		return shared.NewValidationError("model", "must be %s or %s, got %q", ModelHTDemucs, ModelHTDemucsFT, s.Model)
	}
	if s.Stems != 2 && s.Stems != 4 {
		return shared.NewValidationError("stems", "must be 2 or 4, got %d", s.Stems)
	}
	return nil
}

func (s Separation) Body(fileID string) ([]byte, error) {
	return json.Marshal(struct {
		FileID string `json:"file_id"`
		Model  string `json:"model"`
		Stems  int    `json:"stems"`
	}{fileID, s.Model, s.Stems})
}

// Transpose shifts pitch by a whole number of semitones.
type Transpose struct {
	Semitones int
}

func (Transpose) Kind() Operation { return OpTranspose }
func (Transpose) isTransform()    {}

func (t Transpose) Validate() error {
	switch {
	case t.Semitones == 0:
		return shared.NewValidationError("semitones", "0 semitones leaves the audio unchanged")
	case t.Semitones < MinSemitones || t.Semitones > MaxSemitones:
		return shared.NewValidationError("semitones", "must be between %d and %d, got %d", MinSemitones, MaxSemitones, t.Semitones)
	}
	return nil
}

func (t Transpose) Body(fileID string) ([]byte, error) {
	return json.Marshal(struct {
		FileID    string `json:"file_id"`
		Semitones int    `json:"semitones"`
	}{fileID, t.Semitones})
}

// Tempo stretches or compresses playback speed without changing pitch.
type Tempo struct {
	Factor float64
}

func (Tempo) Kind() Operation { return OpTempo }
func (Tempo) isTransform()    {}

func (t Tempo) Validate() error {
	switch {
	case math.IsNaN(t.Factor) || math.IsInf(t.Factor, 0):
		return shared.NewValidationError("tempo_factor", "must be a finite number")
	case t.Factor == 1.0:
		return shared.NewValidationError("tempo_factor", "1.0x leaves the audio unchanged")
	case t.Factor < MinTempoFactor || t.Factor > MaxTempoFactor:
		return shared.NewValidationError("tempo_factor", "must be between %.1f and %.1f, got %g", MinTempoFactor, MaxTempoFactor, t.Factor)
	}
	return nil
}

func (t Tempo) Body(fileID string) ([]byte, error) {
	return json.Marshal(struct {
		FileID      string  `json:"file_id"`
		TempoFactor float64 `json:"tempo_factor"`
	}{fileID, t.Factor})
}
