package flow

import (
	"fmt"
	"sort"

	"inspectline/internal/classify"
	"inspectline/internal/domain"
	"inspectline/internal/mapping"
	"inspectline/internal/rules"
)

// walk is the active path through the materialized questions for a set of answers.
type walk struct {
	path     []int
	frontier int
}

func (w walk) onPath(i int) (int, bool) {
	for k, idx := range w.path {
		if idx == i {
			return k, true
		}
	}
	return -1, false
}

// walk visits questions in order, dropping those whose show rules fail and
// following the first skip rule that fires on an answered question. The
// frontier is the first question on the path without a non-blank answer; an
// optional question answered blank counts as visited.
func (e *Engine) walk(qs []domain.Question, answers []domain.Answer) (walk, error) {
	values := rules.FromSession(answers)
	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = true
	}
	w := walk{frontier: len(qs)}
	i := 0
	for i < len(qs) {
		q := qs[i]
		if !rules.All(q.ShowWhen, values) {
			i++
			continue
		}
		w.path = append(w.path, i)
		if !answered[q.ID] {
			if w.frontier == len(qs) {
				w.frontier = i
			}
			i++
			continue
		}
		next := i + 1
		for _, rule := range q.Skip {
			if !rules.All(rule.When, values) {
				continue
			}
			dest, err := e.skipDestination(qs, i, rule)
			if err != nil {
				return walk{}, err
			}
			next = dest
			break
		}
		i = next
	}
	return w, nil
}

// skipDestination returns the first materialized question ordered at or after
// the earliest target. Targets filtered out of this session still bound the jump.
func (e *Engine) skipDestination(qs []domain.Question, from int, rule domain.SkipRule) (int, error) {
	origin := e.lib.Position(qs[from].ID)
	bound := -1
	for _, target := range rule.Targets {
		p := e.lib.Position(target)
		if p < 0 {
			return 0, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("question %s: skip target %s is not in library %s", qs[from].ID, target, e.lib.Version())}}
		}
		if p <= origin {
			return 0, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("question %s: skip target %s is not ahead of it", qs[from].ID, target)}}
		}
		if bound < 0 || p < bound {
			bound = p
		}
	}
	for j := from + 1; j < len(qs); j++ {
		if e.lib.Position(qs[j].ID) >= bound {
			return j, nil
		}
	}
	return len(qs), nil
}

// derive recomputes everything in a session that is a function of its answers
// and moves the pointer to the frontier.
func (e *Engine) derive(s *domain.Session) (walk, error) {
	w, err := e.walk(s.Questions, s.Answers)
	if err != nil {
		return walk{}, err
	}
	byID := make(map[string]domain.Question, len(s.Questions))
	for _, q := range s.Questions {
		byID[q.ID] = q
	}
	var candidates []domain.FieldCandidate
	triggers := map[string]bool{}
	for i, a := range s.Answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return walk{}, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("answer for %s has no materialized question", a.QuestionID)}}
		}
		cands, err := e.mapper.MapAnswer(q, a)
		if err != nil {
			return walk{}, err
		}
		for _, c := range cands {
			c.Order = i
			candidates = append(candidates, c)
		}
		for _, t := range mapping.Triggers(q, a.Value) {
			triggers[t] = true
		}
	}
	classes := classify.Classify(e.tables, s.Answers)
	candidates = append(candidates, classify.Candidates(classes, s.Answers)...)
	for _, c := range classes {
		for _, t := range c.Triggers {
			triggers[t] = true
		}
	}

	s.Populations = mapping.Resolve(candidates)
	s.Classification = classes
	s.Triggers = make([]string, 0, len(triggers))
	for t := range triggers {
		s.Triggers = append(s.Triggers, t)
	}
	sort.Strings(s.Triggers)
	s.Pointer = w.frontier
	return w, nil
}
