// Package generation selects and orders the library questions that apply to an interview context.
package generation

import (
	"sort"
	"strings"

	"inspectline/internal/domain"
	"inspectline/internal/library"
)

type Tier struct {
	Tier      int               `json:"tier"`
	Questions []domain.Question `json:"questions"`
}

type Result struct {
	Tiers            []Tier   `json:"tiers"`
	Total            int      `json:"total_question_count"`
	StandardsCovered []string `json:"standards_covered"`
}

// Questions flattens the tiers into presentation order.
func (r Result) Questions() []domain.Question {
	out := make([]domain.Question, 0, r.Total)
	for _, t := range r.Tiers {
		out = append(out, t.Questions...)
	}
	return out
}

type Generator struct {
	lib *library.Library
}

func New(lib *library.Library) Generator {
	return Generator{lib: lib}
}

// ValidateContext checks the fields generation depends on.
func ValidateContext(ctx domain.Context) error {
	if strings.TrimSpace(ctx.JobType) == "" {
		return &domain.ValidationError{Rule: domain.RuleContext, Message: "job type is required"}
	}
	if !ctx.AccessTier.Valid() {
		return &domain.ValidationError{Rule: domain.RuleContext, Message: "unknown access tier " + string(ctx.AccessTier)}
	}
	return nil
}

// Generate returns the maximal candidate set for a context. Conditional show
// and skip rules depend on answers and are left to the flow engine.
func (g Generator) Generate(ctx domain.Context) (Result, error) {
	if g.lib == nil {
		return Result{}, &domain.ConfigurationError{Problems: []string{"no question library loaded"}}
	}
	if err := ValidateContext(ctx); err != nil {
		return Result{}, err
	}
	res := Result{Tiers: []Tier{}, StandardsCovered: []string{}}
	standards := map[string]bool{}
	// Library order is already tier, sequence, id.
	for _, q := range g.lib.Questions() {
		if !Applies(q, ctx) {
			continue
		}
		if n := len(res.Tiers); n == 0 || res.Tiers[n-1].Tier != q.Tier {
			res.Tiers = append(res.Tiers, Tier{Tier: q.Tier})
		}
		last := &res.Tiers[len(res.Tiers)-1]
		last.Questions = append(last.Questions, q)
		res.Total++
		for _, s := range q.Standards {
			if !standards[s] {
				standards[s] = true
				res.StandardsCovered = append(res.StandardsCovered, s)
			}
		}
	}
	sort.Strings(res.StandardsCovered)
	return res, nil
}

// Applies reports whether a question passes the access tier, job type and region filters.
func Applies(q domain.Question, ctx domain.Context) bool {
	if !ctx.AccessTier.Allows(q.MinAccessTier) {
		return false
	}
	if len(q.JobTypes) > 0 && !containsFold(q.JobTypes, ctx.JobType) {
		return false
	}
	if len(q.Regions) > 0 {
		matched := false
		for _, r := range q.Regions {
			if regionMatches(r, ctx.Region) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// regionMatches treats a library region as a prefix of dash-separated codes, so "AU" covers "AU-NSW".
func regionMatches(libraryRegion, region string) bool {
	if region == "" {
		return false
	}
	lr, r := strings.ToUpper(libraryRegion), strings.ToUpper(region)
	return r == lr || strings.HasPrefix(r, lr+"-")
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
