// Package classify derives session-level classifications from rule tables.
package classify

import (
	"sort"

	"inspectline/internal/domain"
	"inspectline/internal/rules"
)

// Classify evaluates each table against the answers. The first rule whose
// conditions all hold decides the table's value; tables with no match are omitted.
func Classify(tables []domain.ClassificationTable, answers []domain.Answer) map[string]domain.Classification {
	values := rules.FromSession(answers)
	pos := make(map[string]int, len(answers))
	for i, a := range answers {
		pos[a.QuestionID] = i
	}
	out := map[string]domain.Classification{}
	for _, table := range tables {
		for _, rule := range table.Rules {
			if len(rule.When) == 0 || !rules.All(rule.When, values) {
				continue
			}
			src := latest(rule.When, answers, pos)
			out[table.ID] = domain.Classification{
				ID:               table.ID,
				Field:            table.Field,
				Value:            rule.Value,
				Confidence:       table.Confidence,
				Triggers:         sortedCopy(rule.Triggers),
				SourceQuestionID: src.QuestionID,
				AnsweredAt:       src.AnsweredAt,
			}
			break
		}
	}
	return out
}

// Candidates turns classifications into derived field candidates for conflict resolution.
func Candidates(results map[string]domain.Classification, answers []domain.Answer) []domain.FieldCandidate {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	pos := make(map[string]int, len(answers))
	for i, a := range answers {
		pos[a.QuestionID] = i
	}
	out := make([]domain.FieldCandidate, 0, len(ids))
	for _, id := range ids {
		c := results[id]
		out = append(out, domain.FieldCandidate{
			Field:            c.Field,
			Value:            c.Value,
			Confidence:       c.Confidence,
			SourceQuestionID: c.SourceQuestionID,
			SourceKind:       domain.MappingDerived,
			AnsweredAt:       c.AnsweredAt,
			Triggers:         c.Triggers,
			Order:            pos[c.SourceQuestionID],
		})
	}
	return out
}

// latest picks the most recently answered question among those a rule references.
func latest(conds []domain.Condition, answers []domain.Answer, pos map[string]int) domain.Answer {
	var best domain.Answer
	found := false
	for _, field := range rules.Fields(conds) {
		i, ok := pos[field]
		if !ok {
			continue
		}
		a := answers[i]
		if !found || !a.AnsweredAt.Before(best.AnsweredAt) {
			best = a
			found = true
		}
	}
	return best
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
