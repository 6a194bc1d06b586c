package flow_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"inspectline/internal/domain"
	"inspectline/internal/flow"
	"inspectline/internal/library"
	"inspectline/internal/mapping"
)

var t0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type step struct {
	op    string // answer, back, jump, abandon
	id    string
	value any
}

func transforms() []string { return mapping.DefaultTransforms().Names() }

func newFlow(t *testing.T) *flow.Engine {
	t.Helper()
	lib, err := library.Default(library.Options{Transforms: transforms()})
	if err != nil {
		t.Fatalf("load library: %v", err)
	}
	return flow.New(lib, mapping.New(nil))
}

func newFlowFrom(t *testing.T, doc library.Document) *flow.Engine {
	t.Helper()
	lib, err := library.New(doc, library.Options{Transforms: transforms()})
	if err != nil {
		t.Fatalf("build library: %v", err)
	}
	return flow.New(lib, mapping.New(nil))
}

func start(t *testing.T, e *flow.Engine, tier domain.AccessTier) *domain.Session {
	t.Helper()
	s, err := e.Initialize(flow.StartOptions{
		SessionID:      "sess-1",
		UserID:         "user-1",
		FormTemplateID: "water-damage-report",
		Context:        domain.Context{JobType: "water", Region: "AU-NSW", AccessTier: tier},
		At:             t0,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func current(t *testing.T, s *domain.Session) string {
	t.Helper()
	q, ok := s.Current()
	if !ok {
		return ""
	}
	return q.ID
}

func run(t *testing.T, e *flow.Engine, s *domain.Session, steps []step) {
	t.Helper()
	for i, st := range steps {
		var err error
		switch st.op {
		case "answer":
			err = e.RecordAnswer(s, st.id, st.value, t0.Add(time.Duration(i+1)*time.Minute))
		case "back":
			err = e.GoToPreviousQuestion(s)
		case "jump":
			err = e.JumpToQuestion(s, st.id)
		case "abandon":
			err = e.Abandon(s, t0.Add(time.Duration(i+1)*time.Minute))
		default:
			t.Fatalf("unknown op %s", st.op)
		}
		if err != nil {
			t.Fatalf("step %d (%s %s): %v", i, st.op, st.id, err)
		}
	}
}

func answer(id string, v any) step { return step{op: "answer", id: id, value: v} }

var tierOne = []step{
	answer("water_source", "clean_water"),
	answer("hours_since_loss", "12"),
	answer("affected_rooms", []any{"kitchen", "laundry"}),
	answer("affected_area", "small"),
	answer("electrical_affected", false),
	answer("ppe_required", "yes"),
}

// --- Initialization ---

func TestInitializeStartsAtFirstQuestion(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	if s.Status != domain.StatusStarted {
		t.Fatalf("status = %s", s.Status)
	}
	if s.Pointer != 0 || current(t, s) != "water_source" {
		t.Fatalf("pointer = %d (%s)", s.Pointer, current(t, s))
	}
	if s.LibraryVersion != e.Library().Version() {
		t.Fatalf("library version not recorded")
	}
}

func TestInitializeSkipsQuestionsHiddenWithoutAnswers(t *testing.T) {
	e := newFlowFrom(t, library.Document{
		Version: "t",
		Forms:   []domain.Form{{ID: "f", Fields: []string{"x"}}},
		Questions: []domain.Question{
			{ID: "gate", Tier: 1, Sequence: 1, Type: domain.PromptYesNo},
			{ID: "hidden", Tier: 1, Sequence: 2, Type: domain.PromptYesNo, ShowWhen: []domain.Condition{{Field: "gate", Operator: domain.OpEq, Value: true}}},
			{ID: "visible", Tier: 1, Sequence: 3, Type: domain.PromptYesNo},
		},
	})
	s, err := e.Initialize(flow.StartOptions{SessionID: "s", FormTemplateID: "f", Context: domain.Context{JobType: "any", AccessTier: domain.TierFree}, At: t0})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if current(t, s) != "gate" {
		t.Fatalf("current = %s", current(t, s))
	}
	if err := e.RecordAnswer(s, "gate", false, t0); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if current(t, s) != "visible" {
		t.Fatalf("hidden question was not skipped, current = %s", current(t, s))
	}
}

func TestInitializeRejectsUnknownFormAndContext(t *testing.T) {
	e := newFlow(t)
	_, err := e.Initialize(flow.StartOptions{SessionID: "s", FormTemplateID: "nope", Context: domain.Context{JobType: "water", AccessTier: domain.TierFree}})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Rule != domain.RuleContext {
		t.Fatalf("expected context validation error, got %v", err)
	}
	_, err = e.Initialize(flow.StartOptions{SessionID: "s", FormTemplateID: "water-damage-report", Context: domain.Context{JobType: "water", AccessTier: "gold"}})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for tier, got %v", err)
	}
}

// --- Recording answers ---

func TestRecordAnswerOutOfOrder(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	err := e.RecordAnswer(s, "hours_since_loss", "4", t0)
	var oe *domain.OutOfOrderAnswerError
	if !errors.As(err, &oe) {
		t.Fatalf("expected out of order error, got %v", err)
	}
	if oe.Expected != "water_source" || oe.Got != "hours_since_loss" {
		t.Fatalf("error = %+v", oe)
	}
}

func TestRecordAnswerValidation(t *testing.T) {
	cases := []struct {
		name  string
		setup []step
		id    string
		value any
		rule  string
	}{
		{"required blank", nil, "water_source", "", domain.RuleRequired},
		{"unknown option", nil, "water_source", "lake", domain.RuleOption},
		{"wrong type", nil, "water_source", 7.0, domain.RuleType},
		{"number format", tierOne[:1], "hours_since_loss", "a day", domain.RuleFormat},
		{"number not a number", tierOne[:1], "hours_since_loss", "NaN", domain.RuleFormat},
		{"number infinite", tierOne[:1], "hours_since_loss", "-Inf", domain.RuleFormat},
		{"number overflow", tierOne[:1], "hours_since_loss", "1e999", domain.RuleFormat},
		{"duplicate selection", tierOne[:2], "affected_rooms", []any{"kitchen", "kitchen"}, domain.RuleDuplicate},
		{"selection not an option", tierOne[:2], "affected_rooms", []string{"attic"}, domain.RuleOption},
		{"yes no garbage", tierOne[:4], "electrical_affected", "perhaps", domain.RuleType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newFlow(t)
			s := start(t, e, domain.TierStandard)
			run(t, e, s, tc.setup)
			err := e.RecordAnswer(s, tc.id, tc.value, t0)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Rule != tc.rule || ve.QuestionID != tc.id {
				t.Fatalf("got rule %s on %s, want %s on %s", ve.Rule, ve.QuestionID, tc.rule, tc.id)
			}
		})
	}
}

func TestRecordAnswerMaxLength(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, append(append([]step{}, tierOne...), answer("mould_visible", true)))
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	err := e.RecordAnswer(s, "mould_notes", string(long), t0)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) || ve.Rule != domain.RuleMaxLength {
		t.Fatalf("expected max length error, got %v", err)
	}
}

func TestRejectedMutationLeavesSessionUntouched(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, tierOne[:2])
	before, _ := json.Marshal(s)
	_ = e.RecordAnswer(s, "affected_rooms", []any{"attic"}, t0)
	_ = e.RecordAnswer(s, "water_source", "grey_water", t0)
	after, _ := json.Marshal(s)
	if !bytes.Equal(before, after) {
		t.Fatalf("session changed after rejected mutations")
	}
}

func TestStatusMovesToInProgressThenCompleted(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierFree)
	run(t, e, s, tierOne[:1])
	if s.Status != domain.StatusInProgress {
		t.Fatalf("status after first answer = %s", s.Status)
	}
	run(t, e, s, tierOne[1:])
	if s.Status != domain.StatusCompleted {
		t.Fatalf("status after last answer = %s", s.Status)
	}
	if _, ok := s.Current(); ok {
		t.Fatalf("completed session still has a current question")
	}
	var se *domain.StateError
	if err := e.RecordAnswer(s, "ppe_required", true, t0); !errors.As(err, &se) {
		t.Fatalf("expected state error on completed session, got %v", err)
	}
	if err := e.GoToPreviousQuestion(s); !errors.As(err, &se) {
		t.Fatalf("expected state error navigating completed session, got %v", err)
	}
}

// --- Scenarios ---

func TestSkipLogicElectrical(t *testing.T) {
	e := newFlow(t)

	off := start(t, e, domain.TierStandard)
	run(t, e, off, tierOne[:5])
	if got := current(t, off); got != "ppe_required" {
		t.Fatalf("electrical_affected=false should skip to ppe_required, got %s", got)
	}
	if err := e.JumpToQuestion(off, "electrical_equipment_type"); err == nil {
		t.Fatalf("skipped question must not be on the active path")
	}

	on := start(t, e, domain.TierStandard)
	run(t, e, on, tierOne[:4])
	run(t, e, on, []step{answer("electrical_affected", true)})
	if got := current(t, on); got != "electrical_equipment_type" {
		t.Fatalf("electrical_affected=true should ask for equipment next, got %s", got)
	}
	if on.Pointer != on.Index("electrical_affected")+1 {
		t.Fatalf("follow-up is not immediately after its trigger")
	}
}

func TestCategoryEscalation(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, []step{answer("water_source", "black_water")})

	cat, ok := s.Classification["water_category"]
	if !ok || cat.Value != "3" {
		t.Fatalf("water_category = %+v", s.Classification)
	}
	pop, ok := s.Populations["water_category"]
	if !ok || pop.Value != "3" || pop.SourceKind != domain.MappingDerived {
		t.Fatalf("water_category population = %+v", pop)
	}
	for _, field := range []string{"water_category", "water_source"} {
		if !contains(s.Populations[field].Triggers, "stop_work") {
			t.Fatalf("%s population is missing the stop_work trigger: %+v", field, s.Populations[field])
		}
	}
	if !contains(s.Triggers, "stop_work") {
		t.Fatalf("session triggers = %v", s.Triggers)
	}
}

func TestCategoryEscalatesWithTime(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, tierOne[:1])
	if got := s.Classification["water_category"].Value; got != "1" {
		t.Fatalf("clean water category = %s", got)
	}
	run(t, e, s, []step{answer("hours_since_loss", "72")})
	if got := s.Classification["water_category"].Value; got != "2" {
		t.Fatalf("clean water after 72h category = %s", got)
	}
}

func TestConditionalShowRules(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, tierOne)
	if current(t, s) != "mould_visible" {
		t.Fatalf("current = %s", current(t, s))
	}
	run(t, e, s, []step{answer("mould_visible", false)})
	if current(t, s) != "construction_year" {
		t.Fatalf("mould notes should be hidden, current = %s", current(t, s))
	}
	run(t, e, s, []step{answer("construction_year", "2005")})
	if current(t, s) != "materials" {
		t.Fatalf("asbestos question should be hidden for 2005, current = %s", current(t, s))
	}

	s2 := start(t, e, domain.TierStandard)
	run(t, e, s2, tierOne)
	run(t, e, s2, []step{answer("mould_visible", true)})
	if current(t, s2) != "mould_notes" {
		t.Fatalf("mould notes should be shown, current = %s", current(t, s2))
	}
	run(t, e, s2, []step{answer("mould_notes", ""), answer("construction_year", 1985.0)})
	if current(t, s2) != "asbestos_suspected" {
		t.Fatalf("asbestos question should be shown for 1985, current = %s", current(t, s2))
	}
}

func TestCompletionGating(t *testing.T) {
	e := newFlowFrom(t, library.Document{
		Version: "t",
		Forms:   []domain.Form{{ID: "f", Fields: []string{"x"}}},
		Questions: []domain.Question{
			{ID: "intro", Tier: 1, Sequence: 1, Type: domain.PromptFreeText},
			{ID: "must", Tier: 1, Sequence: 2, Type: domain.PromptYesNo, Required: true},
			{ID: "hidden_required", Tier: 1, Sequence: 3, Type: domain.PromptYesNo, Required: true,
				ShowWhen: []domain.Condition{{Field: "intro", Operator: domain.OpContains, Value: "attic"}}},
			{ID: "outro", Tier: 1, Sequence: 4, Type: domain.PromptFreeText},
		},
	})
	s, err := e.Initialize(flow.StartOptions{SessionID: "s", FormTemplateID: "f", Context: domain.Context{JobType: "any", AccessTier: domain.TierFree}, At: t0})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := e.RecordAnswer(s, "intro", "basement only", t0); err != nil {
		t.Fatalf("answer: %v", err)
	}
	res, err := e.ValidateCompletion(s)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Complete || len(res.Missing) != 1 || res.Missing[0] != "must" {
		t.Fatalf("completion = %+v, want exactly [must]", res)
	}
	if err := e.RecordAnswer(s, "must", true, t0); err != nil {
		t.Fatalf("answer: %v", err)
	}
	res, _ = e.ValidateCompletion(s)
	if !res.Complete || len(res.Missing) != 0 {
		t.Fatalf("completion = %+v", res)
	}
}

func TestReansweringDoesNotInvalidateLaterAnswers(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, tierOne[:4])
	run(t, e, s, []step{
		answer("electrical_affected", true),
		answer("electrical_equipment_type", []any{"switchboard"}),
		answer("ppe_required", true),
		{op: "jump", id: "electrical_affected"},
		answer("electrical_affected", false),
	})

	// The follow-up is now off the active path, but its answer is kept as recorded.
	eq, ok := s.Answer("electrical_equipment_type")
	if !ok {
		t.Fatalf("later answer was discarded")
	}
	if v, _ := eq.Value.([]string); len(v) != 1 || v[0] != "switchboard" {
		t.Fatalf("later answer changed: %#v", eq.Value)
	}
	if err := e.JumpToQuestion(s, "electrical_equipment_type"); err == nil {
		t.Fatalf("stale follow-up should not be reachable")
	}
	// Its mappings still count: the stale static "Yes" (95) beats the new transformed "No" (80).
	hazard := s.Populations["electrical_hazard"]
	if hazard.Value != "Yes" || hazard.SourceQuestionID != "electrical_equipment_type" {
		t.Fatalf("electrical_hazard = %+v", hazard)
	}
	if len(hazard.Superseded) != 1 || hazard.Superseded[0].Value != "No" {
		t.Fatalf("superseded = %+v", hazard.Superseded)
	}
	if _, ok := s.Populations["electrical_equipment"]; !ok {
		t.Fatalf("stale population was dropped")
	}
	// Everything up to ppe_required was answered, so the path continues at tier 2.
	if current(t, s) != "mould_visible" {
		t.Fatalf("current = %s", current(t, s))
	}
}

// --- Navigation ---

func TestNavigation(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)

	var ve *domain.ValidationError
	if err := e.GoToPreviousQuestion(s); !errors.As(err, &ve) || ve.Rule != domain.RuleNavigation {
		t.Fatalf("expected navigation error at first question, got %v", err)
	}
	run(t, e, s, tierOne[:5])
	if err := e.GoToPreviousQuestion(s); err != nil {
		t.Fatalf("back: %v", err)
	}
	// electrical_equipment_type is skipped, so back from ppe_required lands on electrical_affected.
	if current(t, s) != "electrical_affected" {
		t.Fatalf("current = %s", current(t, s))
	}
	answersBefore := len(s.Answers)
	if err := e.JumpToQuestion(s, "water_source"); err != nil {
		t.Fatalf("jump: %v", err)
	}
	if len(s.Answers) != answersBefore {
		t.Fatalf("navigation removed answers")
	}
	if err := e.JumpToQuestion(s, "mould_visible"); !errors.As(err, &ve) || ve.Rule != domain.RuleNavigation {
		t.Fatalf("expected error jumping past the first unanswered question, got %v", err)
	}
	if err := e.JumpToQuestion(s, "nope"); !errors.As(err, &ve) || ve.Rule != domain.RuleUnknown {
		t.Fatalf("expected unknown question error, got %v", err)
	}
	var oe *domain.OutOfOrderAnswerError
	if err := e.RecordAnswer(s, "ppe_required", true, t0); !errors.As(err, &oe) {
		t.Fatalf("answering away from the pointer must fail, got %v", err)
	}
	if err := e.JumpToQuestion(s, "ppe_required"); err != nil {
		t.Fatalf("jump to frontier: %v", err)
	}
}

// --- Abandonment ---

func TestAbandonIsTerminal(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, tierOne[:2])
	if err := e.Abandon(s, t0.Add(time.Hour)); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if s.Status != domain.StatusAbandoned || s.AbandonedAt == nil {
		t.Fatalf("status = %s", s.Status)
	}
	var se *domain.StateError
	for name, err := range map[string]error{
		"answer":  e.RecordAnswer(s, "affected_rooms", []any{"kitchen"}, t0),
		"back":    e.GoToPreviousQuestion(s),
		"jump":    e.JumpToQuestion(s, "water_source"),
		"abandon": e.Abandon(s, t0),
	} {
		if !errors.As(err, &se) {
			t.Fatalf("%s on abandoned session: expected state error, got %v", name, err)
		}
	}
}

// --- Properties ---

func TestForwardOnlyProgression(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierPremium)
	script := append(append([]step{}, tierOne...),
		answer("mould_visible", true),
		answer("mould_notes", "black spots behind the fridge"),
		answer("construction_year", "1979"),
		answer("asbestos_suspected", "no"),
		answer("materials", []any{"hardwood", "carpet"}),
		answer("hardwood_cupping", true),
		answer("insurer_claim_number", "CLM-1"),
		answer("moisture_reading", "31.5"),
		answer("drying_notes", ""),
	)
	for i, st := range script {
		before := s.Pointer
		if err := e.RecordAnswer(s, st.id, st.value, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("answer %s: %v", st.id, err)
		}
		if s.Pointer <= before {
			t.Fatalf("pointer moved from %d to %d after answering %s", before, s.Pointer, st.id)
		}
	}
	if s.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", s.Status)
	}
	for field, p := range s.Populations {
		if p.Confidence < 0 || p.Confidence > 100 {
			t.Fatalf("%s confidence %d out of bounds", field, p.Confidence)
		}
		for _, c := range p.Superseded {
			if c.Confidence < 0 || c.Confidence > 100 {
				t.Fatalf("%s superseded confidence %d out of bounds", field, c.Confidence)
			}
		}
	}
	if got := s.Classification["water_class"].Value; got != "4" {
		t.Fatalf("water_class = %s", got)
	}
}

func TestNumberAnswerStaysTextAndMapsToFloat(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, []step{answer("water_source", "clean_water"), answer("hours_since_loss", " 12.5 ")})

	a, ok := s.Answer("hours_since_loss")
	if !ok || a.Value != "12.5" {
		t.Fatalf("answer = %#v", a.Value)
	}
	pop, ok := s.Populations["hours_since_loss"]
	if !ok || pop.Value != 12.5 {
		t.Fatalf("population = %#v", pop.Value)
	}
}

func TestRestoreIsDeterministic(t *testing.T) {
	scripts := map[string][]step{
		"fresh":      nil,
		"partial":    tierOne[:3],
		"completed":  tierOne,
		"uncertain":  {answer("water_source", "unsure"), answer("hours_since_loss", "3")},
		"escalation": {answer("water_source", "black_water")},
		"navigated":  append(append([]step{}, tierOne[:4]...), step{op: "back"}, step{op: "back"}),
		"reanswered": append(append([]step{}, tierOne[:5]...),
			step{op: "jump", id: "electrical_affected"},
			answer("electrical_affected", true),
			answer("electrical_equipment_type", []any{"lighting"}),
			step{op: "jump", id: "water_source"},
			answer("water_source", "grey_water"),
		),
	}
	scripts["abandoned after back"] = append(append([]step{}, tierOne[:3]...), step{op: "back"}, step{op: "abandon"})
	scripts["abandoned after jump"] = append(append([]step{}, tierOne[:5]...), step{op: "jump", id: "water_source"}, step{op: "abandon"})
	for name, script := range scripts {
		t.Run(name, func(t *testing.T) {
			e := newFlow(t)
			live := start(t, e, domain.TierStandard)
			run(t, e, live, script)

			rec, err := e.Record(live)
			if err != nil {
				t.Fatalf("record: %v", err)
			}
			// Round-trip through JSON the way a store would.
			raw, err := json.Marshal(rec)
			if err != nil {
				t.Fatalf("marshal record: %v", err)
			}
			var stored domain.SessionRecord
			if err := json.Unmarshal(raw, &stored); err != nil {
				t.Fatalf("unmarshal record: %v", err)
			}

			restored, err := e.Restore(stored)
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			want, _ := json.Marshal(live)
			got, _ := json.Marshal(restored)
			if !bytes.Equal(want, got) {
				t.Fatalf("restored session differs\nlive:     %s\nrestored: %s", want, got)
			}
		})
	}
}

func TestRestoreAbandonedSession(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, tierOne[:2])
	if err := e.Abandon(s, t0.Add(time.Hour)); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	rec, err := e.Record(s)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	restored, err := e.Restore(rec)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Status != domain.StatusAbandoned || !restored.AbandonedAt.Equal(*s.AbandonedAt) {
		t.Fatalf("restored status = %s", restored.Status)
	}
}

func TestRestoreAbandonedSessionKeepsCursor(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierStandard)
	run(t, e, s, append(append([]step{}, tierOne[:3]...), step{op: "back"}, step{op: "abandon"}))

	rec, err := e.Record(s)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Cursor != "affected_rooms" {
		t.Fatalf("cursor = %q, want affected_rooms", rec.Cursor)
	}
	restored, err := e.Restore(rec)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	cur, ok := restored.Current()
	if restored.Status != domain.StatusAbandoned || !ok || cur.ID != "affected_rooms" {
		t.Fatalf("restored = %s at %+v", restored.Status, cur)
	}
}

func TestRestoreRejectsForeignLibraryAndAnswers(t *testing.T) {
	e := newFlow(t)
	s := start(t, e, domain.TierFree)
	rec, err := e.Record(s)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	var ce *domain.ConfigurationError

	other := rec
	other.LibraryVersion = "1999.01"
	if _, err := e.Restore(other); !errors.As(err, &ce) {
		t.Fatalf("expected configuration error for library mismatch, got %v", err)
	}

	// mould_visible is a standard-tier question, so it is never materialized for a free session.
	foreign := rec
	foreign.Answers = []domain.Answer{{QuestionID: "mould_visible", Value: true, AnsweredAt: t0}}
	if _, err := e.Restore(foreign); !errors.As(err, &ce) {
		t.Fatalf("expected configuration error for unmaterialized answer, got %v", err)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
