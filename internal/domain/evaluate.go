package domain

// Evaluate scores a learner's selection against a question and returns the
// points awarded plus whether the answer counts as fully correct.
//
// Choice ids that do not belong to the question are ignored. Single-choice
// questions award full points only when exactly the one correct choice is
// selected. Multi-choice questions award full points for the exact correct
// set, a proportional floor(points × right/correct) for any partial overlap,
// and zero otherwise. Partial credit survives wrong picks as long as at least
// one correct choice was selected; that leniency matches the grading policy
// learners already know and is kept deliberately.
func Evaluate(question Question, selectedChoiceIDs []string) (pointsEarned int, isCorrect bool) {
	correct := question.CorrectChoiceIDs()

	selected := make(map[string]struct{})
	for _, id := range selectedChoiceIDs {
		if question.HasChoice(id) {
			selected[id] = struct{}{}
		}
	}

	points := question.PointValue()

	if len(correct) <= 1 {
		// Single choice: exact match of the one correct option.
		if len(selected) != 1 {
			return 0, false
		}
		for id := range correct {
			if _, ok := selected[id]; ok {
				return points, true
			}
		}
		return 0, false
	}

	right := 0
	wrong := 0
	for id := range selected {
		if _, ok := correct[id]; ok {
			right++
		} else {
			wrong++
		}
	}

	switch {
	case wrong == 0 && right == len(correct):
		return points, true
	case right > 0:
		return points * right / len(correct), false
	default:
		return 0, false
	}
}
