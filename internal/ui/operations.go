package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

func separation(model string, stems int) func(string) (models.TransformRequest, error) {
	return func(string) (models.TransformRequest, error) {
		req := models.NewSeparation(model, stems)
		return req, req.Validate()
	}
}

// parseTranspose reads a whole number of semitones, e.g. "-2" or "+3".
func parseTranspose(input string) (models.TransformRequest, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(input), "+"))
	if err != nil {
		return nil, shared.NewValidationError("semitones", "%q is not a whole number", input)
	}
	req := models.Transpose{Semitones: n}
	return req, req.Validate()
}

// parseTempo reads a playback factor such as "1.25" or "0.8x".
func parseTempo(input string) (models.TransformRequest, error) {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(input), "x"), 64)
	if err != nil {
		return nil, shared.NewValidationError("tempo_factor", "%q is not a number", input)
	}
	req := models.Tempo{Factor: f}
	return req, req.Validate()
}

func defaultOperations() []list.Item {
	return []list.Item{
		operationItem{
			title: "Separate (4 stems)",
			desc:  "Vocals, drums, bass and other with " + models.ModelHTDemucs,
			build: separation(models.ModelHTDemucs, 4),
		},
		operationItem{
			title: "Separate (4 stems, fine-tuned)",
			desc:  "Slower and cleaner with " + models.ModelHTDemucsFT,
			build: separation(models.ModelHTDemucsFT, 4),
		},
		operationItem{
			title: "Separate (2 stems)",
			desc:  "Vocals and accompaniment",
			build: separation(models.ModelHTDemucs, 2),
		},
		operationItem{
			title:  "Transpose",
			desc:   fmt.Sprintf("Shift pitch by %d to +%d semitones", models.MinSemitones, models.MaxSemitones),
			prompt: "Semitones (e.g. -2)",
			build:  parseTranspose,
		},
		operationItem{
			title:  "Change tempo",
			desc:   fmt.Sprintf("%.1fx to %.1fx without changing pitch", models.MinTempoFactor, models.MaxTempoFactor),
			prompt: "Tempo factor (e.g. 1.25)",
			build:  parseTempo,
		},
	}
}
