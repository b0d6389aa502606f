package tasks

import (
	"errors"
	"testing"

	"github.com/desertthunder/stemx/internal/models"
	"github.com/desertthunder/stemx/internal/shared"
)

func TestMaterialize(t *testing.T) {
	t.Run("Four Stems In Canonical Order", func(t *testing.T) {
		task := models.Task{
			ID:     "t1",
			Status: models.StatusCompleted,
			Result: map[string]string{"other": "f5", "bass": "f4", "vocals": "f2", "drums": "f3"},
		}

		set, err := Materialize(task)
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if set.TaskID != "t1" || set.Len() != 4 {
			t.Fatalf("unexpected set %+v", set)
		}

		want := []struct {
			name, id, icon, color string
		}{
			{"vocals", "f2", "🎤", "#ef4444"},
			{"drums", "f3", "🥁", "#f59e0b"},
			{"bass", "f4", "🎸", "#10b981"},
			{"other", "f5", "🎹", "#3b82f6"},
		}
		for i, w := range want {
			got := set.Tracks[i]
			if got.Name != w.name || got.ResourceID != w.id || got.Icon != w.icon || got.Color != w.color || !got.Known {
				t.Errorf("track %d: expected %+v, got %+v", i, w, got)
			}
		}
	})

	t.Run("Unknown Outputs Use Fallback", func(t *testing.T) {
		task := models.Task{
			ID:     "t2",
			Status: models.StatusCompleted,
			Result: map[string]string{"piano": "f9", "vocals": "f2", "guitar": "f8"},
		}

		set, err := Materialize(task)
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}

		names := []string{}
		for _, tr := range set.Tracks {
			names = append(names, tr.Name)
		}
		if len(names) != 3 || names[0] != "vocals" || names[1] != "guitar" || names[2] != "piano" {
			t.Fatalf("expected [vocals guitar piano], got %v", names)
		}

		piano, ok := set.Get("piano")
		if !ok {
			t.Fatal("piano missing from set")
		}
		if piano.Known || piano.Icon != models.FallbackStem.Icon || piano.Color != models.FallbackStem.Color {
			t.Errorf("expected fallback presentation, got %+v", piano)
		}
		if piano.ResourceID != "f9" || piano.Label != "Piano" {
			t.Errorf("unexpected piano track %+v", piano)
		}
	})

	t.Run("Single Output", func(t *testing.T) {
		set, err := Materialize(models.Task{ID: "t3", Status: models.StatusCompleted, Result: map[string]string{"audio": "f7"}})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if set.Len() != 1 || set.Tracks[0].ResourceID != "f7" {
			t.Errorf("unexpected set %+v", set)
		}
	})

	t.Run("Empty Result", func(t *testing.T) {
		set, err := Materialize(models.Task{ID: "t4", Status: models.StatusCompleted, Result: map[string]string{}})
		if err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if set.Len() != 0 {
			t.Errorf("expected an empty set, got %d tracks", set.Len())
		}
	})

	t.Run("Requires Completed Task", func(t *testing.T) {
		for _, status := range []models.TaskStatus{models.StatusPending, models.StatusProcessing, models.StatusFailed, models.StatusCancelled} {
			_, err := Materialize(models.Task{ID: "t5", Status: status})
			if !errors.Is(err, shared.ErrTaskNotCompleted) {
				t.Errorf("%s: expected ErrTaskNotCompleted, got %v", status, err)
			}
		}
	})

	t.Run("Does Not Modify Task", func(t *testing.T) {
		result := map[string]string{"vocals": "f2", "drums": "f3"}
		task := models.Task{ID: "t6", Status: models.StatusCompleted, Result: result}

		if _, err := Materialize(task); err != nil {
			t.Fatalf("Materialize failed: %v", err)
		}
		if len(result) != 2 || result["vocals"] != "f2" || result["drums"] != "f3" {
			t.Errorf("result map was modified: %v", result)
		}
	})
}
