package situation

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"text/template"
)

// #region action
// Action is a single device/tool operation. Identity is the composite
// (tool, operation, params); see Key.
type Action struct {
	Tool      string            `yaml:"tool" json:"tool"`
	Operation string            `yaml:"operation" json:"operation"`
	Params    map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Name returns "tool.operation" without parameters.
func (a Action) Name() string {
	return a.Tool + "." + a.Operation
}

// Key returns the canonical identity "tool.operation[.params]".
// Parameters are encoded in sorted order so equal actions share a key.
func (a Action) Key() string {
	if len(a.Params) == 0 {
		return a.Name()
	}
	v := url.Values{}
	for name, val := range a.Params {
		v.Set(name, val)
	}
	return a.Name() + "." + v.Encode()
}

// Equal reports whether tool, operation and parameters all match.
func (a Action) Equal(b Action) bool {
	return a.Key() == b.Key()
}

// WithParam returns a copy of a with name set to value.
func (a Action) WithParam(name, value string) Action {
	params := make(map[string]string, len(a.Params)+1)
	for k, v := range a.Params {
		params[k] = v
	}
	params[name] = value
	a.Params = params
	return a
}

func (a Action) String() string {
	return a.Key()
}

// ParseAction splits "tool.operation" at the last dot, so dotted tools
// like "system.brightness.down" keep their namespace.
func ParseAction(name string) (Action, error) {
	name = strings.TrimSpace(name)
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return Action{}, fmt.Errorf("action %q: expected tool.operation", name)
	}
	return Action{Tool: name[:i], Operation: name[i+1:]}, nil
}

// #endregion action

// #region situation
// Situation is a named, recognizable user state mapped to candidate actions.
// Values are immutable once part of a Corpus.
type Situation struct {
	Key         string
	Phrases     []string
	Actions     []Action
	Weight      float64 // base weight, scales action priority
	Domain      string  // e.g. "comfort", "system", "network"
	Description string  // text/template source

	tmpl *template.Template
}

// clone copies the phrase and action lists and every action's params. The
// parsed template is shared; it is never modified after load.
func (s Situation) clone() Situation {
	s.Phrases = slices.Clone(s.Phrases)
	s.Actions = slices.Clone(s.Actions)
	for i := range s.Actions {
		s.Actions[i].Params = maps.Clone(s.Actions[i].Params)
	}
	return s
}

// responseData is the value the description template is rendered with.
type responseData struct {
	Situation string
	Actions   []string
}

// Respond renders the description template for the planned actions.
// Falls back to the raw description if rendering fails.
func (s Situation) Respond(actions []Action) string {
	if s.tmpl == nil {
		return s.Description
	}
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Name()
	}
	var b strings.Builder
	if err := s.tmpl.Execute(&b, responseData{Situation: s.Key, Actions: names}); err != nil {
		return s.Description
	}
	return b.String()
}

// #endregion situation
