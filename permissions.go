package secretstack

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/perlin-network/secretstack/identity"
	"github.com/pkg/errors"
)

// Anonymous is the identity class of every peer no rule names specifically.
const Anonymous = "anonymous"

// Rule is the allow and deny list of one identity class. A nil list is null: a null Allow allows every method of the
// plugin declaring the rule, and a null Deny denies none. Deny takes precedence over Allow.
type Rule struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// UnmarshalJSON accepts null or an array of method names for both allow and deny, and rejects anything else.
func (r *Rule) UnmarshalJSON(buf []byte) error {
	var raw map[string]json.RawMessage

	if err := json.Unmarshal(buf, &raw); err != nil {
		return errors.Wrap(err, "permission rule must be an object")
	}

	var rule Rule

	for key, value := range raw {
		var list *[]string

		switch key {
		case "allow":
			list = &rule.Allow
		case "deny":
			list = &rule.Deny
		default:
			return errors.Errorf("unknown permission rule field %q", key)
		}

		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}

		var methods []string
		if err := json.Unmarshal(value, &methods); err != nil {
			return errors.Errorf("%s must be null or a list of method names", key)
		}

		if methods == nil {
			methods = []string{}
		}

		*list = methods
	}

	*r = rule
	return nil
}

// Permissions maps identity classes onto their rule. A class is either Anonymous or a public key.
type Permissions map[string]Rule

func (r Rule) validate() error {
	for _, list := range [][]string{r.Allow, r.Deny} {
		for _, method := range list {
			if method == "" {
				return errors.New("rule lists an empty method name")
			}
		}
	}

	return nil
}

// own resolves a null Allow into the methods of the plugin declaring the rule, so that no plugin may open up the
// methods of another.
func (r Rule) own(methods []string) Rule {
	if r.Allow == nil {
		r.Allow = append([]string{}, methods...)
	}
	return r
}

// merge unions two rules of one class. Both are expected to have been resolved with own first.
func (r Rule) merge(other Rule) Rule {
	return Rule{Allow: union(r.Allow, other.Allow), Deny: union(r.Deny, other.Deny)}
}

func union(a, b []string) []string {
	if a == nil && b == nil {
		return nil
	}

	set := make(map[string]struct{}, len(a)+len(b))
	for _, m := range a {
		set[m] = struct{}{}
	}
	for _, m := range b {
		set[m] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)

	return out
}

func cloneList(list []string) []string {
	if list == nil {
		return nil
	}
	return append([]string{}, list...)
}

func contains(list []string, method string) bool {
	for _, m := range list {
		if m == method {
			return true
		}
	}
	return false
}

// normalizeClass maps a class onto its canonical form, so that a public key may be written either in full or as
// bare base64.
func normalizeClass(class string) (string, error) {
	if class == Anonymous {
		return class, nil
	}

	key, err := identity.ParsePublicKey(class)
	if err != nil {
		return "", errors.Errorf("identity class %q is neither %q nor a public key", class, Anonymous)
	}

	return key.String(), nil
}

// gate decides whether a remote identity may call a method. Its rules are fixed once a builder is built.
type gate struct {
	rules Permissions
}

func (g *gate) rule(remote identity.PublicKey) (Rule, bool) {
	if rule, ok := g.rules[remote.String()]; ok {
		return rule, true
	}

	rule, ok := g.rules[Anonymous]
	return rule, ok
}

func (g *gate) authorize(remote identity.PublicKey, method string) bool {
	rule, ok := g.rule(remote)
	if !ok {
		return false
	}

	if contains(rule.Deny, method) {
		return false
	}

	return rule.Allow == nil || contains(rule.Allow, method)
}

// visible filters manifest down to the methods remote may call.
func (g *gate) visible(remote identity.PublicKey, manifest Manifest) Manifest {
	out := make(Manifest)

	for method, kind := range manifest {
		if g.authorize(remote, method) {
			out[method] = kind
		}
	}

	return out
}
