package domain

type PromptType string

const (
	PromptSingleChoice PromptType = "single_choice"
	PromptMultiSelect  PromptType = "multi_select"
	PromptFreeText     PromptType = "free_text"
	PromptYesNo        PromptType = "yes_no"
)

func (p PromptType) Valid() bool {
	switch p {
	case PromptSingleChoice, PromptMultiSelect, PromptFreeText, PromptYesNo:
		return true
	}
	return false
}

// HasOptions reports whether answers are drawn from a declared option list.
func (p PromptType) HasOptions() bool {
	return p == PromptSingleChoice || p == PromptMultiSelect
}

type MappingKind string

const (
	MappingDirect      MappingKind = "direct"
	MappingTransformed MappingKind = "transformed"
	MappingStatic      MappingKind = "static"
	// MappingDerived marks candidates produced by classification tables rather than a question mapping.
	MappingDerived MappingKind = "derived"
)

func (k MappingKind) Valid() bool {
	switch k {
	case MappingDirect, MappingTransformed, MappingStatic:
		return true
	}
	return false
}

type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpIncludes Operator = "includes"
	OpExcludes Operator = "excludes"
	OpContains Operator = "contains"
)

// Operators lists every supported condition operator.
var Operators = []Operator{OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte, OpIncludes, OpExcludes, OpContains}

func (o Operator) Valid() bool {
	for _, op := range Operators {
		if op == o {
			return true
		}
	}
	return false
}

// AccessTier is the subscription level of the person running an interview.
type AccessTier string

const (
	TierFree       AccessTier = "free"
	TierStandard   AccessTier = "standard"
	TierPremium    AccessTier = "premium"
	TierEnterprise AccessTier = "enterprise"
)

var accessTierRank = map[AccessTier]int{
	TierFree:       0,
	TierStandard:   1,
	TierPremium:    2,
	TierEnterprise: 3,
}

func (t AccessTier) Valid() bool {
	_, ok := accessTierRank[t]
	return ok
}

// Rank orders tiers from free (0) upwards; unknown tiers rank -1.
func (t AccessTier) Rank() int {
	r, ok := accessTierRank[t]
	if !ok {
		return -1
	}
	return r
}

// Allows reports whether a holder of t may see content gated at min.
func (t AccessTier) Allows(min AccessTier) bool {
	if min == "" {
		min = TierFree
	}
	return t.Valid() && t.Rank() >= min.Rank()
}

const FormatNumber = "number"

// Condition is a single {field, operator, value} test against a recorded answer.
type Condition struct {
	Field    string   `yaml:"field" json:"field"`
	Operator Operator `yaml:"op" json:"op" enum:"eq,neq,gt,lt,gte,lte,includes,excludes,contains"`
	Value    any      `yaml:"value" json:"value"`
}

type SkipRule struct {
	When    []Condition `yaml:"when" json:"when"`
	Targets []string    `yaml:"targets" json:"targets"`
}

type Option struct {
	Value     string `yaml:"value" json:"value"`
	Label     string `yaml:"label" json:"label"`
	Trigger   string `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	Uncertain bool   `yaml:"uncertain,omitempty" json:"uncertain,omitempty"`
}

type FieldMapping struct {
	Field          string      `yaml:"field" json:"field"`
	Kind           MappingKind `yaml:"kind" json:"kind" enum:"direct,transformed,static"`
	Transform      string      `yaml:"transform,omitempty" json:"transform,omitempty"`
	Value          any         `yaml:"value,omitempty" json:"value,omitempty"`
	BaseConfidence int         `yaml:"base_confidence" json:"base_confidence" minimum:"0" maximum:"100"`
}

type Question struct {
	ID            string         `yaml:"id" json:"id"`
	Tier          int            `yaml:"tier" json:"tier"`
	Category      string         `yaml:"category" json:"category"`
	Sequence      int            `yaml:"sequence" json:"sequence"`
	Prompt        string         `yaml:"prompt" json:"prompt"`
	Type          PromptType     `yaml:"type" json:"type" enum:"single_choice,multi_select,free_text,yes_no"`
	Required      bool           `yaml:"required" json:"required"`
	Format        string         `yaml:"format,omitempty" json:"format,omitempty"`
	MaxLength     int            `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Options       []Option       `yaml:"options,omitempty" json:"options,omitempty"`
	FieldMappings []FieldMapping `yaml:"field_mappings,omitempty" json:"field_mappings,omitempty"`
	ShowWhen      []Condition    `yaml:"show_when,omitempty" json:"show_when,omitempty"`
	Skip          []SkipRule     `yaml:"skip,omitempty" json:"skip,omitempty"`
	MinAccessTier AccessTier     `yaml:"min_access_tier" json:"min_access_tier"`
	JobTypes      []string       `yaml:"job_types,omitempty" json:"job_types,omitempty"`
	Regions       []string       `yaml:"regions,omitempty" json:"regions,omitempty"`
	Standards     []string       `yaml:"standards,omitempty" json:"standards,omitempty"`
	Justification string         `yaml:"justification,omitempty" json:"justification,omitempty"`
}

// Option returns the declared option with the given value.
func (q Question) Option(value string) (Option, bool) {
	for _, o := range q.Options {
		if o.Value == value {
			return o, true
		}
	}
	return Option{}, false
}

// Clone returns a deep copy so library-owned questions cannot be mutated through a caller's copy.
func (q Question) Clone() Question {
	out := q
	out.Options = append([]Option(nil), q.Options...)
	out.FieldMappings = append([]FieldMapping(nil), q.FieldMappings...)
	out.ShowWhen = append([]Condition(nil), q.ShowWhen...)
	out.Skip = nil
	for _, r := range q.Skip {
		out.Skip = append(out.Skip, SkipRule{
			When:    append([]Condition(nil), r.When...),
			Targets: append([]string(nil), r.Targets...),
		})
	}
	out.JobTypes = append([]string(nil), q.JobTypes...)
	out.Regions = append([]string(nil), q.Regions...)
	out.Standards = append([]string(nil), q.Standards...)
	return out
}

type Form struct {
	ID     string   `yaml:"id" json:"id"`
	Title  string   `yaml:"title,omitempty" json:"title,omitempty"`
	Fields []string `yaml:"fields" json:"fields"`
}

func (f Form) HasField(id string) bool {
	for _, fld := range f.Fields {
		if fld == id {
			return true
		}
	}
	return false
}

type ClassificationRule struct {
	When     []Condition `yaml:"when" json:"when"`
	Value    string      `yaml:"value" json:"value"`
	Triggers []string    `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// ClassificationTable derives one session-level value from answers; the first matching rule wins.
type ClassificationTable struct {
	ID         string               `yaml:"id" json:"id"`
	Field      string               `yaml:"field" json:"field"`
	Confidence int                  `yaml:"confidence" json:"confidence"`
	Rules      []ClassificationRule `yaml:"rules" json:"rules"`
}
