package library

import (
	"fmt"

	"inspectline/internal/domain"
)

type questionKey struct {
	tier     int
	sequence int
}

// validate collects every integrity problem in the document so a broken
// library is reported in one pass.
func validate(doc Document, opts Options) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if doc.Version == "" {
		add("version is required")
	}

	formFields := map[string]bool{}
	if len(doc.Forms) == 0 {
		add("at least one form is required")
	}
	formIDs := map[string]bool{}
	for i, f := range doc.Forms {
		if f.ID == "" {
			add("forms[%d].id is required", i)
		} else if formIDs[f.ID] {
			add("form %s declared twice", f.ID)
		}
		formIDs[f.ID] = true
		if len(f.Fields) == 0 {
			add("form %s has no fields", f.ID)
		}
		seen := map[string]bool{}
		for _, fld := range f.Fields {
			if fld == "" {
				add("form %s has an empty field id", f.ID)
				continue
			}
			if seen[fld] {
				add("form %s declares field %s twice", f.ID, fld)
			}
			seen[fld] = true
			formFields[fld] = true
		}
	}

	transforms := map[string]bool{}
	for _, name := range opts.Transforms {
		transforms[name] = true
	}

	if len(doc.Questions) == 0 {
		add("at least one question is required")
	}
	byID := map[string]domain.Question{}
	keys := map[questionKey]string{}
	for i, q := range doc.Questions {
		if q.ID == "" {
			add("questions[%d].id is required", i)
			continue
		}
		if _, dup := byID[q.ID]; dup {
			add("question %s declared twice", q.ID)
			continue
		}
		byID[q.ID] = q
		if q.Tier < 1 {
			add("question %s: tier must be >= 1", q.ID)
		}
		if q.Sequence < 0 {
			add("question %s: sequence must be >= 0", q.ID)
		}
		k := questionKey{tier: q.Tier, sequence: q.Sequence}
		if other, taken := keys[k]; taken {
			add("question %s: tier %d sequence %d already used by %s", q.ID, q.Tier, q.Sequence, other)
		} else {
			keys[k] = q.ID
		}
	}

	// Rules need the full id set, so they are checked in a second pass.
	for _, q := range doc.Questions {
		if q.ID == "" {
			continue
		}
		problems = append(problems, validateQuestion(q, byID, formFields, transforms)...)
	}

	tableIDs := map[string]bool{}
	for i, c := range doc.Classifications {
		if c.ID == "" {
			add("classifications[%d].id is required", i)
		} else if tableIDs[c.ID] {
			add("classification %s declared twice", c.ID)
		}
		tableIDs[c.ID] = true
		if !formFields[c.Field] {
			add("classification %s targets unknown form field %q", c.ID, c.Field)
		}
		if c.Confidence < 0 || c.Confidence > 100 {
			add("classification %s: confidence %d outside 0..100", c.ID, c.Confidence)
		}
		if len(c.Rules) == 0 {
			add("classification %s has no rules", c.ID)
		}
		for j, r := range c.Rules {
			if r.Value == "" {
				add("classification %s rule %d: value is required", c.ID, j)
			}
			if len(r.When) == 0 {
				add("classification %s rule %d: when is required", c.ID, j)
			}
			for _, cond := range r.When {
				if msg := checkCondition(cond, byID); msg != "" {
					add("classification %s rule %d: %s", c.ID, j, msg)
				}
			}
		}
	}
	return problems
}

func validateQuestion(q domain.Question, byID map[string]domain.Question, formFields, transforms map[string]bool) []string {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("question %s: "+format, append([]any{q.ID}, args...)...))
	}

	if !q.Type.Valid() {
		add("unknown prompt type %q", q.Type)
	}
	if q.Type.HasOptions() {
		if len(q.Options) == 0 {
			add("%s requires options", q.Type)
		}
		seen := map[string]bool{}
		for _, o := range q.Options {
			if o.Value == "" {
				add("option with empty value")
				continue
			}
			if seen[o.Value] {
				add("option %s declared twice", o.Value)
			}
			seen[o.Value] = true
		}
	} else if len(q.Options) > 0 {
		add("%s must not declare options", q.Type)
	}
	if q.Format != "" && q.Format != domain.FormatNumber {
		add("unknown format %q", q.Format)
	}
	if (q.Format != "" || q.MaxLength != 0) && q.Type != domain.PromptFreeText {
		add("format and max_length apply to free_text only")
	}
	if q.MaxLength < 0 {
		add("max_length must be >= 0")
	}
	if !q.MinAccessTier.Valid() {
		add("unknown min_access_tier %q", q.MinAccessTier)
	}

	for _, m := range q.FieldMappings {
		if !formFields[m.Field] {
			add("mapping targets unknown form field %q", m.Field)
		}
		if !m.Kind.Valid() {
			add("mapping for %s has unknown kind %q", m.Field, m.Kind)
		}
		if m.BaseConfidence < 0 || m.BaseConfidence > 100 {
			add("mapping for %s: base_confidence %d outside 0..100", m.Field, m.BaseConfidence)
		}
		switch m.Kind {
		case domain.MappingTransformed:
			if m.Transform == "" {
				add("transformed mapping for %s needs a transform", m.Field)
			} else if !transforms[m.Transform] {
				add("mapping for %s uses unregistered transform %q", m.Field, m.Transform)
			}
		case domain.MappingStatic:
			if m.Value == nil {
				add("static mapping for %s needs a value", m.Field)
			}
		}
	}

	for _, c := range q.ShowWhen {
		if msg := checkCondition(c, byID); msg != "" {
			add("show_when: %s", msg)
			continue
		}
		if !Less(byID[c.Field], q) {
			add("show_when references %s, which is not ordered before it", c.Field)
		}
	}

	for i, r := range q.Skip {
		if len(r.When) == 0 {
			add("skip[%d]: when is required", i)
		}
		for _, c := range r.When {
			if msg := checkCondition(c, byID); msg != "" {
				add("skip[%d]: %s", i, msg)
				continue
			}
			if c.Field != q.ID && !Less(byID[c.Field], q) {
				add("skip[%d] references %s, which is not answered by then", i, c.Field)
			}
		}
		if len(r.Targets) == 0 {
			add("skip[%d]: targets are required", i)
		}
		for _, target := range r.Targets {
			tq, ok := byID[target]
			if !ok {
				add("skip[%d] targets unknown question %s", i, target)
				continue
			}
			if !Less(q, tq) {
				add("skip[%d] targets %s, which is not ordered after it (skip logic must only jump forward)", i, target)
			}
		}
	}
	return problems
}

func checkCondition(c domain.Condition, byID map[string]domain.Question) string {
	ref, ok := byID[c.Field]
	if !ok {
		return fmt.Sprintf("condition references unknown question %q", c.Field)
	}
	if !c.Operator.Valid() {
		return fmt.Sprintf("condition on %s uses unknown operator %q", c.Field, c.Operator)
	}
	if c.Value == nil {
		return fmt.Sprintf("condition on %s has no value", c.Field)
	}
	switch c.Operator {
	case domain.OpIncludes, domain.OpExcludes:
		if ref.Type != domain.PromptMultiSelect {
			return fmt.Sprintf("operator %s needs a multi_select question, %s is %s", c.Operator, c.Field, ref.Type)
		}
	case domain.OpContains:
		if ref.Type != domain.PromptFreeText {
			return fmt.Sprintf("operator contains needs a free_text question, %s is %s", c.Field, ref.Type)
		}
	case domain.OpGt, domain.OpLt, domain.OpGte, domain.OpLte:
		if ref.Type != domain.PromptFreeText || ref.Format != domain.FormatNumber {
			return fmt.Sprintf("operator %s needs a numeric free_text question, %s is not", c.Operator, c.Field)
		}
	}
	return ""
}
