package mapping

import (
	"errors"
	"testing"
	"time"

	"inspectline/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func sourceQuestion() domain.Question {
	return domain.Question{
		ID:   "water_source",
		Type: domain.PromptSingleChoice,
		Options: []domain.Option{
			{Value: "clean_water", Label: "Clean water"},
			{Value: "black_water", Label: "Black water", Trigger: "stop_work"},
			{Value: "unsure", Label: "Not sure", Uncertain: true},
		},
		FieldMappings: []domain.FieldMapping{
			{Field: "water_source", Kind: domain.MappingDirect, BaseConfidence: 95},
			{Field: "water_source_label", Kind: domain.MappingTransformed, Transform: "option_label", BaseConfidence: 95},
			{Field: "reviewed", Kind: domain.MappingStatic, Value: "yes", BaseConfidence: 100},
		},
	}
}

func TestMapAnswerKinds(t *testing.T) {
	m := New(nil)
	cands, err := m.MapAnswer(sourceQuestion(), domain.Answer{QuestionID: "water_source", Value: "black_water", AnsweredAt: t0})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if len(cands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(cands))
	}
	want := []struct {
		value      any
		confidence int
		kind       domain.MappingKind
	}{
		{"black_water", 95, domain.MappingDirect},
		{"Black water", 95 - TransformPenalty, domain.MappingTransformed},
		{"yes", 100, domain.MappingStatic},
	}
	for i, w := range want {
		c := cands[i]
		if c.Value != w.value || c.Confidence != w.confidence || c.SourceKind != w.kind {
			t.Fatalf("candidate %d = %+v, want value=%v confidence=%d kind=%s", i, c, w.value, w.confidence, w.kind)
		}
		if c.SourceQuestionID != "water_source" || !c.AnsweredAt.Equal(t0) {
			t.Fatalf("candidate %d lost provenance: %+v", i, c)
		}
		if len(c.Triggers) != 1 || c.Triggers[0] != "stop_work" {
			t.Fatalf("candidate %d triggers = %v", i, c.Triggers)
		}
	}
}

func TestMapAnswerUncertainPenalty(t *testing.T) {
	m := New(nil)
	q := sourceQuestion()
	if got := m.AnswerConfidence(q, "unsure"); got != 100-UncertaintyPenalty {
		t.Fatalf("answer confidence = %d", got)
	}
	if got := m.AnswerConfidence(q, "clean_water"); got != 100 {
		t.Fatalf("answer confidence = %d", got)
	}
	cands, err := m.MapAnswer(q, domain.Answer{QuestionID: q.ID, Value: "unsure", AnsweredAt: t0})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if cands[0].Confidence != 95-UncertaintyPenalty {
		t.Fatalf("direct confidence = %d", cands[0].Confidence)
	}
	if cands[1].Confidence != 95-TransformPenalty-UncertaintyPenalty {
		t.Fatalf("transformed confidence = %d", cands[1].Confidence)
	}
}

func TestMapAnswerBlankProducesNothing(t *testing.T) {
	cands, err := New(nil).MapAnswer(sourceQuestion(), domain.Answer{QuestionID: "water_source", Value: "", AnsweredAt: t0})
	if err != nil || len(cands) != 0 {
		t.Fatalf("expected no candidates, got %v (%v)", cands, err)
	}
}

func TestMapAnswerTransformFailureIsValidationError(t *testing.T) {
	q := domain.Question{
		ID:   "hours",
		Type: domain.PromptFreeText,
		FieldMappings: []domain.FieldMapping{
			{Field: "hours", Kind: domain.MappingTransformed, Transform: "number", BaseConfidence: 90},
		},
	}
	_, err := New(nil).MapAnswer(q, domain.Answer{QuestionID: "hours", Value: "about a day", AnsweredAt: t0})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Rule != domain.RuleTransform {
		t.Fatalf("expected transform validation error, got %v", err)
	}
}

func TestConfidenceIsClamped(t *testing.T) {
	q := sourceQuestion()
	q.FieldMappings = []domain.FieldMapping{
		{Field: "low", Kind: domain.MappingTransformed, Transform: "option_label", BaseConfidence: 5},
	}
	cands, err := New(nil).MapAnswer(q, domain.Answer{QuestionID: q.ID, Value: "unsure", AnsweredAt: t0})
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if cands[0].Confidence != 0 {
		t.Fatalf("confidence = %d, want 0", cands[0].Confidence)
	}
	pops := Resolve([]domain.FieldCandidate{{Field: "x", Confidence: 140}, {Field: "y", Confidence: -3}})
	for field, p := range pops {
		if p.Confidence < 0 || p.Confidence > 100 {
			t.Fatalf("%s confidence %d out of bounds", field, p.Confidence)
		}
	}
}

func TestResolveHighestConfidenceWinsRegardlessOfOrder(t *testing.T) {
	low := domain.FieldCandidate{Field: "f", Value: "low", Confidence: 70, SourceQuestionID: "q1", AnsweredAt: t0, Order: 0}
	high := domain.FieldCandidate{Field: "f", Value: "high", Confidence: 90, SourceQuestionID: "q2", AnsweredAt: t0.Add(-time.Hour), Order: 1}
	for name, in := range map[string][]domain.FieldCandidate{
		"low first":  {low, high},
		"high first": {high, low},
	} {
		t.Run(name, func(t *testing.T) {
			pop := Resolve(in)["f"]
			if pop.Value != "high" || pop.Confidence != 90 || pop.SourceQuestionID != "q2" {
				t.Fatalf("resolved %+v", pop)
			}
			if len(pop.Superseded) != 1 || pop.Superseded[0].Value != "low" {
				t.Fatalf("losing candidate not kept: %+v", pop.Superseded)
			}
		})
	}
}

func TestResolveTieGoesToMostRecentAnswer(t *testing.T) {
	older := domain.FieldCandidate{Field: "f", Value: "older", Confidence: 80, SourceQuestionID: "q1", AnsweredAt: t0}
	newer := domain.FieldCandidate{Field: "f", Value: "newer", Confidence: 80, SourceQuestionID: "q2", AnsweredAt: t0.Add(time.Minute)}
	if pop := Resolve([]domain.FieldCandidate{newer, older})["f"]; pop.Value != "newer" {
		t.Fatalf("resolved %v", pop.Value)
	}
	if pop := Resolve([]domain.FieldCandidate{older, newer})["f"]; pop.Value != "newer" {
		t.Fatalf("resolved %v", pop.Value)
	}
}

func TestQualityReport(t *testing.T) {
	form := domain.Form{ID: "report", Fields: []string{"a", "b", "c", "d"}}
	pops := map[string]domain.FieldPopulation{
		"a": {Field: "a", Confidence: 90},
		"b": {Field: "b", Confidence: 50},
		"c": {Field: "c", Confidence: 70},
	}
	r := Quality(pops, form, 60)
	if r.TotalFields != 4 || r.PopulatedFields != 3 {
		t.Fatalf("counts: %+v", r)
	}
	if r.Completeness != 0.75 {
		t.Fatalf("completeness = %v", r.Completeness)
	}
	if r.AverageConfidence != 70 {
		t.Fatalf("average = %v", r.AverageConfidence)
	}
	if len(r.LowConfidence) != 1 || r.LowConfidence[0].Field != "b" {
		t.Fatalf("low confidence = %+v", r.LowConfidence)
	}
	if len(r.MissingFields) != 1 || r.MissingFields[0] != "d" {
		t.Fatalf("missing = %v", r.MissingFields)
	}
}

func TestExportCarriesProvenance(t *testing.T) {
	form := domain.Form{ID: "report", Fields: []string{"water_source", "water_category"}}
	s := &domain.Session{
		ID:             "s1",
		UserID:         "u1",
		LibraryVersion: "v1",
		Status:         domain.StatusCompleted,
		Populations: map[string]domain.FieldPopulation{
			"water_source": {Field: "water_source", Value: "black_water", Confidence: 95, SourceQuestionID: "water_source", SourceKind: domain.MappingDirect, AnsweredAt: t0, Triggers: []string{"stop_work"},
				Superseded: []domain.FieldCandidate{{Field: "water_source", Value: "x", Confidence: 10}}},
			"stray": {Field: "stray", Value: 1, Confidence: 40},
		},
		Classification: map[string]domain.Classification{"water_category": {ID: "water_category", Value: "3"}},
		Triggers:       []string{"stop_work"},
	}
	p := Export(s, form, 60)
	f, ok := p.Fields["water_source"]
	if !ok {
		t.Fatalf("field missing from payload")
	}
	if f.Metadata.Confidence != 95 || f.Metadata.SourceQuestionID != "water_source" || f.Metadata.Alternatives != 1 {
		t.Fatalf("metadata = %+v", f.Metadata)
	}
	if len(f.Metadata.Triggers) != 1 || f.Metadata.Triggers[0] != "stop_work" {
		t.Fatalf("triggers = %v", f.Metadata.Triggers)
	}
	if p.Classification["water_category"] != "3" {
		t.Fatalf("classification = %v", p.Classification)
	}
	if len(p.UnmappedFields) != 1 || p.UnmappedFields[0] != "stray" {
		t.Fatalf("unmapped = %v", p.UnmappedFields)
	}
	if p.Quality.PopulatedFields != 1 || p.Quality.MissingFields[0] != "water_category" {
		t.Fatalf("quality = %+v", p.Quality)
	}
}

func TestDefaultTransforms(t *testing.T) {
	tr := DefaultTransforms()
	q := sourceQuestion()
	cases := []struct {
		name  string
		value any
		want  any
	}{
		{"option_label", []string{"clean_water", "black_water"}, "Clean water, Black water"},
		{"join", []string{"a", "b"}, "a, b"},
		{"yes_no", true, "Yes"},
		{"upper", "abc", "ABC"},
		{"lower", "ABC", "abc"},
		{"number", " 42.5 ", 42.5},
		{"count", []string{"a", "b", "c"}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tr[tc.name](q, tc.value)
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if got != tc.want {
				t.Fatalf("%s = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
	if names := tr.Names(); len(names) != 7 || names[0] != "count" {
		t.Fatalf("names = %v", names)
	}
}

func TestNumberTransformRejectsNonFinite(t *testing.T) {
	number := DefaultTransforms()["number"]
	for _, v := range []any{"NaN", "inf", "-Infinity", "many", 12.0} {
		if got, err := number(sourceQuestion(), v); err == nil {
			t.Fatalf("number(%v) = %v, want error", v, got)
		}
	}
}
