/*
Copyright 2025 The Confsync Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package defaults recognises items that are provided by the environment
// rather than authored by users.
package defaults

import (
	"regexp"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/confsync/confsync/pkg/document"
)

// MatchKind names the rule family that classified an item.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchPattern    MatchKind = "pattern"
	MatchStructural MatchKind = "structural"
)

// Match describes why an item is a default.
type Match struct {
	Kind MatchKind
	Rule string
}

// StructuralRule matches on the shape of an item rather than its name.
type StructuralRule struct {
	Name  string
	Match func(doc *document.Document, item *document.Item) bool
}

// RuleSet holds the rules for one item type, evaluated exact names first,
// then name patterns, then structural rules.
type RuleSet struct {
	Names      sets.Set[string]
	Patterns   []*regexp.Regexp
	Structural []StructuralRule
}

var (
	prefixPattern  = regexp.MustCompile(`(?i)^(default|predefined)-`)
	profilePattern = regexp.MustCompile(`(?i)(default|predefined|best-practice)`)
)

// SystemContainers are environment-owned container names. Items held by one
// of them, or by any of their descendants, are defaults.
var SystemContainers = sets.New("Predefined", "predefined-snippet", "default")

func inSystemContainer(doc *document.Document, item *document.Item) bool {
	for _, c := range doc.Lineage(item.Container) {
		if SystemContainers.Has(c) {
			return true
		}
	}
	return SystemContainers.Has(item.Container)
}

var ruleMatchFields = []string{"source", "destination", "service", "application"}

// allWildcardRule matches a security rule whose every match condition is the
// wildcard value.
func allWildcardRule(_ *document.Document, item *document.Item) bool {
	for _, f := range ruleMatchFields {
		if !isWildcard(item.Payload[f]) {
			return false
		}
	}
	return true
}

func isWildcard(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == "any" || t == "application-default"
	case []string:
		return len(t) == 1 && isWildcard(t[0])
	case []interface{}:
		return len(t) == 1 && isWildcard(t[0])
	default:
		return false
	}
}

// DefaultRules returns the built-in catalogue. Every item type has a rule
// set.
func DefaultRules() map[document.ItemType]*RuleSet {
	systemRule := StructuralRule{Name: "system-container", Match: inSystemContainer}

	rules := make(map[document.ItemType]*RuleSet)
	for _, t := range document.AllTypes() {
		rules[t] = &RuleSet{
			Names:      sets.New[string](),
			Patterns:   []*regexp.Regexp{prefixPattern},
			Structural: []StructuralRule{systemRule},
		}
	}

	rules[document.TypeService].Names.Insert("service-http", "service-https")
	rules[document.TypeSecurityRule].Names.Insert("intrazone-default", "interzone-default")
	rules[document.TypeSecurityRule].Structural = append(rules[document.TypeSecurityRule].Structural,
		StructuralRule{Name: "all-wildcard-rule", Match: allWildcardRule})

	for _, t := range []document.ItemType{
		document.TypeAntiSpywareProfile,
		document.TypeVulnerabilityProfile,
		document.TypeURLFilteringProfile,
		document.TypeProfileGroup,
	} {
		rules[t].Names.Insert("default", "strict")
		rules[t].Patterns = append(rules[t].Patterns, profilePattern)
	}
	return rules
}
