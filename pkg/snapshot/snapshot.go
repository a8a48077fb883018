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

// Package snapshot reads and writes documents as plain YAML files.
package snapshot

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/confsync/confsync/pkg/document"
)

const (
	APIVersion = "confsync.io/v1"
	Kind       = "Snapshot"
)

// File is the serialised form of a document.
type File struct {
	APIVersion string               `json:"apiVersion"`
	Kind       string               `json:"kind"`
	Metadata   document.Metadata    `json:"metadata"`
	Containers []document.Container `json:"containers,omitempty"`
	Items      []fileItem           `json:"items,omitempty"`
}

// fileItem omits references; they are derived from the payload on load.
type fileItem struct {
	Type      document.ItemType      `json:"type"`
	Name      string                 `json:"name"`
	Container string                 `json:"container"`
	ID        string                 `json:"id,omitempty"`
	IsDefault bool                   `json:"isDefault,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Encode renders doc as YAML. Containers are written in tree order and items
// in key order, so equal documents encode identically.
func Encode(doc *document.Document) ([]byte, error) {
	f := File{
		APIVersion: APIVersion,
		Kind:       Kind,
		Metadata:   doc.Metadata,
	}
	for _, c := range doc.Containers() {
		f.Containers = append(f.Containers, *c)
	}
	for _, item := range doc.Items() {
		f.Items = append(f.Items, fileItem{
			Type:      item.Type,
			Name:      item.Name,
			Container: item.Container,
			ID:        item.ID,
			IsDefault: item.IsDefault,
			Payload:   item.Payload,
		})
	}
	return yaml.Marshal(f)
}

// Decode parses data produced by Encode. Every item goes through
// Document.AddItem, so unknown types and malformed reference fields are
// rejected.
func Decode(data []byte) (*document.Document, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if f.Kind != Kind {
		return nil, fmt.Errorf("unexpected kind %q, want %q", f.Kind, Kind)
	}
	if f.APIVersion != APIVersion {
		return nil, fmt.Errorf("unsupported apiVersion %q", f.APIVersion)
	}

	doc := document.New(f.Metadata)
	for i := range f.Containers {
		if err := doc.AddContainer(&f.Containers[i]); err != nil {
			return nil, fmt.Errorf("container %d: %w", i, err)
		}
	}
	for i, fi := range f.Items {
		item := &document.Item{
			Type:      fi.Type,
			Name:      fi.Name,
			Container: fi.Container,
			ID:        fi.ID,
			IsDefault: fi.IsDefault,
			Payload:   fi.Payload,
		}
		if err := doc.AddItem(item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}
	return doc, nil
}

// Load reads a snapshot file.
func Load(path string) (*document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save writes doc to path.
func Save(path string, doc *document.Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
