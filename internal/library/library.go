// Package library loads and validates question library documents.
//
// A *Library is immutable once built: every accessor returns copies, so
// several library versions can be held side by side and handed to engines
// independently.
package library

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"inspectline/internal/domain"
)

//go:embed defaults/water_damage.yml
var defaultDocument []byte

// Document is the on-disk shape of a question library.
type Document struct {
	Version         string                       `yaml:"version"`
	Forms           []domain.Form                `yaml:"forms"`
	Questions       []domain.Question            `yaml:"questions"`
	Classifications []domain.ClassificationTable `yaml:"classifications"`
}

// Options control validation of references the document cannot check by itself.
type Options struct {
	// Transforms names the registered transform functions; transformed mappings must use one.
	Transforms []string
	// Source labels errors, normally the file path.
	Source string
}

type Library struct {
	version         string
	forms           []domain.Form
	questions       []domain.Question
	index           map[string]int
	classifications []domain.ClassificationTable
}

// Default returns the embedded water-damage library.
func Default(opts Options) (*Library, error) {
	if opts.Source == "" {
		opts.Source = "embedded:water_damage.yml"
	}
	return Parse(defaultDocument, opts)
}

// Load reads a library document from disk.
func Load(path string, opts Options) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read library %s: %w", path, err)
	}
	if opts.Source == "" {
		opts.Source = path
	}
	return Parse(data, opts)
}

// Parse decodes a YAML document, rejecting unknown keys, then validates it.
func Parse(data []byte, opts Options) (*Library, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &domain.ConfigurationError{Source: opts.Source, Problems: []string{"document is empty"}}
		}
		return nil, &domain.ConfigurationError{Source: opts.Source, Problems: []string{err.Error()}}
	}
	return New(doc, opts)
}

// New validates a document and freezes it into a Library.
func New(doc Document, opts Options) (*Library, error) {
	for i := range doc.Questions {
		if doc.Questions[i].MinAccessTier == "" {
			doc.Questions[i].MinAccessTier = domain.TierFree
		}
	}
	if problems := validate(doc, opts); len(problems) > 0 {
		return nil, &domain.ConfigurationError{Source: opts.Source, Problems: problems}
	}
	lib := &Library{
		version: doc.Version,
		index:   make(map[string]int, len(doc.Questions)),
	}
	for _, f := range doc.Forms {
		lib.forms = append(lib.forms, domain.Form{ID: f.ID, Title: f.Title, Fields: append([]string(nil), f.Fields...)})
	}
	for _, q := range doc.Questions {
		lib.questions = append(lib.questions, q.Clone())
	}
	sort.SliceStable(lib.questions, func(i, j int) bool {
		return Less(lib.questions[i], lib.questions[j])
	})
	for i, q := range lib.questions {
		lib.index[q.ID] = i
	}
	for _, c := range doc.Classifications {
		lib.classifications = append(lib.classifications, cloneTable(c))
	}
	return lib, nil
}

// Less orders questions by tier, then sequence, then id.
func Less(a, b domain.Question) bool {
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.ID < b.ID
}

func (l *Library) Version() string { return l.version }

// Questions returns every question in library order.
func (l *Library) Questions() []domain.Question {
	out := make([]domain.Question, 0, len(l.questions))
	for _, q := range l.questions {
		out = append(out, q.Clone())
	}
	return out
}

func (l *Library) Question(id string) (domain.Question, bool) {
	i, ok := l.index[id]
	if !ok {
		return domain.Question{}, false
	}
	return l.questions[i].Clone(), true
}

// Position returns the library-order rank of a question, or -1.
func (l *Library) Position(id string) int {
	i, ok := l.index[id]
	if !ok {
		return -1
	}
	return i
}

func (l *Library) Forms() []domain.Form {
	out := make([]domain.Form, 0, len(l.forms))
	for _, f := range l.forms {
		out = append(out, domain.Form{ID: f.ID, Title: f.Title, Fields: append([]string(nil), f.Fields...)})
	}
	return out
}

func (l *Library) Form(id string) (domain.Form, bool) {
	for _, f := range l.forms {
		if f.ID == id {
			return domain.Form{ID: f.ID, Title: f.Title, Fields: append([]string(nil), f.Fields...)}, true
		}
	}
	return domain.Form{}, false
}

func (l *Library) Classifications() []domain.ClassificationTable {
	out := make([]domain.ClassificationTable, 0, len(l.classifications))
	for _, c := range l.classifications {
		out = append(out, cloneTable(c))
	}
	return out
}

func cloneTable(c domain.ClassificationTable) domain.ClassificationTable {
	out := c
	out.Rules = nil
	for _, r := range c.Rules {
		out.Rules = append(out.Rules, domain.ClassificationRule{
			When:     append([]domain.Condition(nil), r.When...),
			Value:    r.Value,
			Triggers: append([]string(nil), r.Triggers...),
		})
	}
	return out
}
