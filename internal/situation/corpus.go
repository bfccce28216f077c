package situation

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// #region errors
var (
	// ErrCorpusEmpty is returned when a corpus declares no situations.
	ErrCorpusEmpty = errors.New("corpus empty")
	// ErrCorpusInvalid is returned when a corpus fails validation. No part of
	// an invalid corpus is ever activated.
	ErrCorpusInvalid = errors.New("corpus invalid")
)

// #endregion errors

// #region corpus
// Corpus is an immutable, ordered registry of situations. Declaration order
// is the tie-break order for equal match scores.
type Corpus struct {
	situations []Situation
	index      map[string]int
}

// NewCorpus validates and normalizes situations into a Corpus.
// Phrases are trimmed and deduplicated; a zero weight defaults to 1.0.
func NewCorpus(situations []Situation) (*Corpus, error) {
	if len(situations) == 0 {
		return nil, ErrCorpusEmpty
	}
	c := &Corpus{
		situations: make([]Situation, 0, len(situations)),
		index:      make(map[string]int, len(situations)),
	}
	for _, s := range situations {
		norm, err := normalize(s)
		if err != nil {
			return nil, err
		}
		if _, dup := c.index[norm.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate situation %q", ErrCorpusInvalid, norm.Key)
		}
		c.index[norm.Key] = len(c.situations)
		c.situations = append(c.situations, norm)
	}
	return c, nil
}

func normalize(s Situation) (Situation, error) {
	s.Key = strings.TrimSpace(s.Key)
	if s.Key == "" {
		return Situation{}, fmt.Errorf("%w: situation with empty key", ErrCorpusInvalid)
	}

	seen := make(map[string]bool, len(s.Phrases))
	phrases := make([]string, 0, len(s.Phrases))
	for _, p := range s.Phrases {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		phrases = append(phrases, p)
	}
	if len(phrases) == 0 {
		return Situation{}, fmt.Errorf("%w: situation %q has no phrases", ErrCorpusInvalid, s.Key)
	}
	s.Phrases = phrases

	if len(s.Actions) == 0 {
		return Situation{}, fmt.Errorf("%w: situation %q has no actions", ErrCorpusInvalid, s.Key)
	}
	actions := make([]Action, len(s.Actions))
	for i, a := range s.Actions {
		if a.Tool == "" || a.Operation == "" {
			return Situation{}, fmt.Errorf("%w: situation %q action %d needs tool and operation", ErrCorpusInvalid, s.Key, i)
		}
		a.Params = maps.Clone(a.Params)
		actions[i] = a
	}
	s.Actions = actions

	if s.Weight == 0 {
		s.Weight = 1.0
	}
	if s.Weight < 0 {
		return Situation{}, fmt.Errorf("%w: situation %q has negative weight %.3f", ErrCorpusInvalid, s.Key, s.Weight)
	}

	if s.Description == "" {
		s.Description = fmt.Sprintf("Handling %s.", s.Key)
	}
	tmpl, err := template.New(s.Key).Funcs(templateFuncs).Parse(s.Description)
	if err != nil {
		return Situation{}, fmt.Errorf("%w: situation %q description: %v", ErrCorpusInvalid, s.Key, err)
	}
	s.tmpl = tmpl
	return s, nil
}

// Len returns the number of situations.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.situations)
}

// At returns the i-th situation in declaration order. The result is a copy;
// changing it does not change the corpus.
func (c *Corpus) At(i int) Situation {
	return c.situations[i].clone()
}

// Get looks a situation up by key and returns a copy.
func (c *Corpus) Get(key string) (Situation, bool) {
	if c == nil {
		return Situation{}, false
	}
	i, ok := c.index[key]
	if !ok {
		return Situation{}, false
	}
	return c.situations[i].clone(), true
}

// Keys returns situation keys in declaration order.
func (c *Corpus) Keys() []string {
	keys := make([]string, c.Len())
	for i := range keys {
		keys[i] = c.situations[i].Key
	}
	return keys
}

// #endregion corpus

// templateFuncs are available to description templates.
var templateFuncs = template.FuncMap{"join": strings.Join}

// #region loader
// rawSituation is the on-disk shape of a single corpus entry.
type rawSituation struct {
	Phrases     []string `yaml:"phrases"`
	Actions     []Action `yaml:"actions"`
	Weight      *float64 `yaml:"weight"`
	Domain      string   `yaml:"domain"`
	Description string   `yaml:"description"`
}

// Parse decodes a corpus document (YAML, or JSON as a YAML subset) keyed by
// situation name. Key order in the document is preserved.
func Parse(data []byte) (*Corpus, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrCorpusInvalid, err)
	}
	if len(doc.Content) == 0 {
		return nil, ErrCorpusEmpty
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of situation name to definition", ErrCorpusInvalid)
	}
	if len(root.Content) == 0 {
		return nil, ErrCorpusEmpty
	}

	situations := make([]Situation, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		var raw rawSituation
		if err := root.Content[i+1].Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: situation %q: %v", ErrCorpusInvalid, key, err)
		}
		weight := 1.0
		if raw.Weight != nil {
			if *raw.Weight <= 0 {
				return nil, fmt.Errorf("%w: situation %q weight must be > 0", ErrCorpusInvalid, key)
			}
			weight = *raw.Weight
		}
		situations = append(situations, Situation{
			Key:         key,
			Phrases:     raw.Phrases,
			Actions:     raw.Actions,
			Weight:      weight,
			Domain:      raw.Domain,
			Description: raw.Description,
		})
	}
	return NewCorpus(situations)
}

// LoadFile reads and parses a corpus file.
func LoadFile(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load corpus %s: %w", path, err)
	}
	return c, nil
}

// #endregion loader
