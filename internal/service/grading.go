package service

import (
	"github.com/stemsi/exstem-session/internal/model"
)

// Grade scores a submission against the answer key in memory. Multiple-choice
// compares the option index and true/false compares the canonical token.
// Short-answer questions carry no key and are left for manual review, so a
// result with pending reviews is not final.
func Grade(questions []model.Question, answers map[string]model.Answer) model.GradeResult {
	var res model.GradeResult

	for _, q := range questions {
		res.MaxScore += q.Points

		if q.Kind == model.QuestionKindShortAnswer || q.Correct == nil {
			if _, ok := answers[q.ID]; ok {
				res.PendingReview++
			}
			continue
		}

		given, ok := answers[q.ID]
		if !ok {
			continue
		}
		if given.Equal(*q.Correct) {
			res.Correct++
			res.Score += q.Points
		}
	}

	res.FullyGraded = res.PendingReview == 0
	return res
}
