package storyteller

// StepRange is one inclusive chapter interval processed as a unit.
type StepRange struct {
	Start int
	End   int
}

// StepStartForChapter returns the 1-based start of the step containing
// chapterIdx.
func StepStartForChapter(chapterIdx, stepSize int) int {
	return ((chapterIdx-1)/stepSize)*stepSize + 1
}

// StepEndForStart returns the inclusive end of a step, clamped to the last
// chapter.
func StepEndForStart(stepStart, stepSize, maxChapterIdx int) int {
	end := stepStart + stepSize - 1
	if end > maxChapterIdx {
		end = maxChapterIdx
	}
	return end
}

// AlignFromChapter aligns a user-provided lower bound down to its step
// start.
func AlignFromChapter(fromChapter, stepSize int) int {
	return StepStartForChapter(fromChapter, stepSize)
}

// AlignToChapter aligns a user-provided upper bound up to its step end,
// clamped to the last chapter.
func AlignToChapter(toChapter, stepSize, maxChapterIdx int) int {
	start := StepStartForChapter(toChapter, stepSize)
	return StepEndForStart(start, stepSize, maxChapterIdx)
}

// IterStepRanges builds the inclusive step ranges covering an interval.
// An unaligned startChapter widens the first range to its step start.
func IterStepRanges(startChapter, endChapter, stepSize int) []StepRange {
	if startChapter > endChapter {
		return nil
	}
	var ranges []StepRange
	current := startChapter
	for current <= endChapter {
		stepStart := StepStartForChapter(current, stepSize)
		end := StepEndForStart(stepStart, stepSize, endChapter)
		ranges = append(ranges, StepRange{Start: stepStart, End: end})
		current = end + 1
	}
	return ranges
}
