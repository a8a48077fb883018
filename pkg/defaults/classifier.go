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

package defaults

import (
	"github.com/confsync/confsync/pkg/document"
)

// Stats summarises one classification pass.
type Stats struct {
	Total    int
	Defaults int
	ByType   map[document.ItemType]int
	ByMatch  map[MatchKind]int
}

// Classifier marks default items. It holds only its rules, so one instance
// can classify any number of documents.
type Classifier struct {
	rules map[document.ItemType]*RuleSet
}

// NewClassifier returns a classifier using DefaultRules.
func NewClassifier() *Classifier {
	return NewClassifierWithRules(DefaultRules())
}

// NewClassifierWithRules returns a classifier with a custom catalogue. Types
// without a rule set are never defaults.
func NewClassifierWithRules(rules map[document.ItemType]*RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// Match evaluates the rules for item's type and returns the first match.
func (c *Classifier) Match(doc *document.Document, item *document.Item) (Match, bool) {
	rs, ok := c.rules[item.Type]
	if !ok {
		return Match{}, false
	}
	if rs.Names.Has(item.Name) {
		return Match{Kind: MatchExact, Rule: item.Name}, true
	}
	for _, p := range rs.Patterns {
		if p.MatchString(item.Name) {
			return Match{Kind: MatchPattern, Rule: p.String()}, true
		}
	}
	for _, s := range rs.Structural {
		if s.Match(doc, item) {
			return Match{Kind: MatchStructural, Rule: s.Name}, true
		}
	}
	return Match{}, false
}

// Classify sets IsDefault on every item of doc that matches a rule and
// returns the counts for this pass. Items already marked stay marked.
func (c *Classifier) Classify(doc *document.Document) Stats {
	stats := Stats{
		ByType:  make(map[document.ItemType]int),
		ByMatch: make(map[MatchKind]int),
	}
	for _, item := range doc.Items() {
		stats.Total++
		m, ok := c.Match(doc, item)
		if !ok {
			continue
		}
		item.IsDefault = true
		stats.Defaults++
		stats.ByType[item.Type]++
		stats.ByMatch[m.Kind]++
	}
	return stats
}

// Filter returns a new document without the default items unless
// keepDefaults is set. doc is not modified and its containers are all kept.
func Filter(doc *document.Document, keepDefaults bool) *document.Document {
	return doc.Select(func(item *document.Item) bool {
		return keepDefaults || !item.IsDefault
	})
}
