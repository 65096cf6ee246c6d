package storyteller

import (
	"reflect"
	"testing"
)

func TestStepMath(t *testing.T) {
	cases := []struct {
		chapterIdx, stepSize, wantStart int
	}{
		{1, 8, 1},
		{8, 8, 1},
		{9, 8, 9},
		{17, 8, 17},
		{5, 1, 5},
	}
	for _, tc := range cases {
		if got := StepStartForChapter(tc.chapterIdx, tc.stepSize); got != tc.wantStart {
			t.Errorf("StepStartForChapter(%d, %d) = %d, want %d", tc.chapterIdx, tc.stepSize, got, tc.wantStart)
		}
	}

	if got := StepEndForStart(9, 8, 20); got != 16 {
		t.Errorf("StepEndForStart(9, 8, 20) = %d, want 16", got)
	}
	if got := StepEndForStart(17, 8, 20); got != 20 {
		t.Errorf("StepEndForStart(17, 8, 20) = %d, want clamp to 20", got)
	}
}

func TestAlignment(t *testing.T) {
	if got := AlignFromChapter(10, 8); got != 9 {
		t.Errorf("AlignFromChapter(10, 8) = %d, want 9", got)
	}
	if got := AlignToChapter(10, 8, 100); got != 16 {
		t.Errorf("AlignToChapter(10, 8, 100) = %d, want 16", got)
	}
	if got := AlignToChapter(10, 8, 12); got != 12 {
		t.Errorf("AlignToChapter(10, 8, 12) = %d, want clamp to 12", got)
	}
}

func TestIterStepRanges(t *testing.T) {
	t.Run("aligned", func(t *testing.T) {
		got := IterStepRanges(1, 20, 8)
		want := []StepRange{{1, 8}, {9, 16}, {17, 20}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("IterStepRanges(1, 20, 8) = %v, want %v", got, want)
		}
	})

	t.Run("unaligned start widens to step start", func(t *testing.T) {
		got := IterStepRanges(10, 20, 8)
		want := []StepRange{{9, 16}, {17, 20}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("IterStepRanges(10, 20, 8) = %v, want %v", got, want)
		}
	})

	t.Run("inverted range is empty", func(t *testing.T) {
		if got := IterStepRanges(5, 3, 8); got != nil {
			t.Errorf("IterStepRanges(5, 3, 8) = %v, want nil", got)
		}
	})

	t.Run("step size one", func(t *testing.T) {
		got := IterStepRanges(2, 4, 1)
		want := []StepRange{{2, 2}, {3, 3}, {4, 4}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("IterStepRanges(2, 4, 1) = %v, want %v", got, want)
		}
	})
}
