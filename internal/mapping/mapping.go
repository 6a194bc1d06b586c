// Package mapping turns recorded answers into form field populations.
package mapping

import (
	"fmt"
	"math"
	"sort"

	"inspectline/internal/domain"
)

const (
	// TransformPenalty is subtracted from the base confidence of transformed mappings.
	TransformPenalty = 10
	// UncertaintyPenalty applies when an answer selects an option marked uncertain.
	UncertaintyPenalty = 20
	// DefaultConfidenceFloor flags populations below this confidence in quality reports.
	DefaultConfidenceFloor = 60
)

type Mapper struct {
	transforms Transforms
}

func New(transforms Transforms) Mapper {
	if transforms == nil {
		transforms = DefaultTransforms()
	}
	return Mapper{transforms: transforms}
}

// Uncertain reports whether the value selects an option flagged uncertain.
func Uncertain(q domain.Question, value any) bool {
	for _, v := range selected(value) {
		if o, ok := q.Option(v); ok && o.Uncertain {
			return true
		}
	}
	return false
}

// Triggers returns the trigger tags of the selected options, sorted and unique.
func Triggers(q domain.Question, value any) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range selected(value) {
		if o, ok := q.Option(v); ok && o.Trigger != "" && !seen[o.Trigger] {
			seen[o.Trigger] = true
			out = append(out, o.Trigger)
		}
	}
	sort.Strings(out)
	return out
}

// AnswerConfidence is the confidence recorded on the answer itself.
func (m Mapper) AnswerConfidence(q domain.Question, value any) int {
	c := 100
	if Uncertain(q, value) {
		c -= UncertaintyPenalty
	}
	return Clamp(c)
}

// MapAnswer produces one candidate per field mapping. Blank answers produce none.
func (m Mapper) MapAnswer(q domain.Question, a domain.Answer) ([]domain.FieldCandidate, error) {
	if a.Blank() {
		return nil, nil
	}
	uncertain := Uncertain(q, a.Value)
	triggers := Triggers(q, a.Value)
	out := make([]domain.FieldCandidate, 0, len(q.FieldMappings))
	for _, fm := range q.FieldMappings {
		c := domain.FieldCandidate{
			Field:            fm.Field,
			SourceQuestionID: q.ID,
			SourceKind:       fm.Kind,
			AnsweredAt:       a.AnsweredAt,
			Triggers:         triggers,
		}
		confidence := fm.BaseConfidence
		switch fm.Kind {
		case domain.MappingDirect:
			c.Value = a.Value
		case domain.MappingTransformed:
			fn, ok := m.transforms[fm.Transform]
			if !ok {
				return nil, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("question %s: transform %q is not registered", q.ID, fm.Transform)}}
			}
			v, err := fn(q, a.Value)
			if err != nil {
				return nil, &domain.ValidationError{QuestionID: q.ID, Rule: domain.RuleTransform, Message: err.Error()}
			}
			c.Value = v
			confidence -= TransformPenalty
		case domain.MappingStatic:
			c.Value = fm.Value
		default:
			return nil, &domain.ConfigurationError{Problems: []string{fmt.Sprintf("question %s: unknown mapping kind %q", q.ID, fm.Kind)}}
		}
		if uncertain {
			confidence -= UncertaintyPenalty
		}
		c.Confidence = Clamp(confidence)
		out = append(out, c)
	}
	return out, nil
}

// Resolve picks one population per field: highest confidence wins, then the
// most recent answer. Losing candidates are kept on the population.
func Resolve(candidates []domain.FieldCandidate) map[string]domain.FieldPopulation {
	byField := map[string][]domain.FieldCandidate{}
	for _, c := range candidates {
		c.Confidence = Clamp(c.Confidence)
		byField[c.Field] = append(byField[c.Field], c)
	}
	out := make(map[string]domain.FieldPopulation, len(byField))
	for field, group := range byField {
		sort.SliceStable(group, func(i, j int) bool { return outranks(group[i], group[j]) })
		win := group[0]
		pop := domain.FieldPopulation{
			Field:            field,
			Value:            win.Value,
			Confidence:       win.Confidence,
			SourceQuestionID: win.SourceQuestionID,
			SourceKind:       win.SourceKind,
			AnsweredAt:       win.AnsweredAt,
			Triggers:         win.Triggers,
		}
		if len(group) > 1 {
			pop.Superseded = append([]domain.FieldCandidate(nil), group[1:]...)
		}
		out[field] = pop
	}
	return out
}

func outranks(a, b domain.FieldCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.AnsweredAt.Equal(b.AnsweredAt) {
		return a.AnsweredAt.After(b.AnsweredAt)
	}
	if a.Order != b.Order {
		return a.Order > b.Order
	}
	if a.SourceKind != b.SourceKind {
		return a.SourceKind < b.SourceKind
	}
	return a.SourceQuestionID < b.SourceQuestionID
}

// Quality scores populations against the fields of a form.
func Quality(pops map[string]domain.FieldPopulation, form domain.Form, floor int) domain.QualityReport {
	report := domain.QualityReport{
		FormTemplateID:  form.ID,
		TotalFields:     len(form.Fields),
		ConfidenceFloor: floor,
		LowConfidence:   []domain.FieldFlag{},
		MissingFields:   []string{},
	}
	sum := 0
	for _, field := range form.Fields {
		pop, ok := pops[field]
		if !ok {
			report.MissingFields = append(report.MissingFields, field)
			continue
		}
		report.PopulatedFields++
		sum += pop.Confidence
		if pop.Confidence < floor {
			report.LowConfidence = append(report.LowConfidence, domain.FieldFlag{Field: field, Confidence: pop.Confidence})
		}
	}
	if report.TotalFields > 0 {
		report.Completeness = round(float64(report.PopulatedFields) / float64(report.TotalFields))
	}
	if report.PopulatedFields > 0 {
		report.AverageConfidence = round(float64(sum) / float64(report.PopulatedFields))
	}
	return report
}

// Export builds the form submission payload for a session.
func Export(s *domain.Session, form domain.Form, floor int) domain.SubmissionPayload {
	payload := domain.SubmissionPayload{
		SessionID:      s.ID,
		UserID:         s.UserID,
		FormTemplateID: form.ID,
		LibraryVersion: s.LibraryVersion,
		Status:         s.Status,
		Fields:         map[string]domain.SubmittedField{},
		Classification: map[string]string{},
		Triggers:       append([]string{}, s.Triggers...),
		Quality:        Quality(s.Populations, form, floor),
	}
	for field, pop := range s.Populations {
		if !form.HasField(field) {
			payload.UnmappedFields = append(payload.UnmappedFields, field)
			continue
		}
		payload.Fields[field] = domain.SubmittedField{
			Value: pop.Value,
			Metadata: domain.FieldMetadata{
				Confidence:       pop.Confidence,
				SourceQuestionID: pop.SourceQuestionID,
				SourceKind:       pop.SourceKind,
				AnsweredAt:       pop.AnsweredAt,
				Triggers:         pop.Triggers,
				Alternatives:     len(pop.Superseded),
				LowConfidence:    pop.Confidence < floor,
			},
		}
	}
	sort.Strings(payload.UnmappedFields)
	for id, c := range s.Classification {
		payload.Classification[id] = c.Value
	}
	return payload
}

// Clamp bounds a confidence to 0..100.
func Clamp(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func selected(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	}
	return nil
}

func round(f float64) float64 {
	return math.Round(f*10000) / 10000
}
