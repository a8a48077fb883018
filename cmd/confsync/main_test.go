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

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confsync/confsync/pkg/document"
	"github.com/confsync/confsync/pkg/remote/memory"
)

const sourceEnvironment = `
apiVersion: confsync.io/v1
kind: Snapshot
metadata:
  source: prod
containers:
- name: Shared
  kind: folder
- name: Branch
  kind: folder
  parent: Shared
items:
- type: address
  name: web
  container: Shared
  payload:
    ip_netmask: 10.0.0.1/32
- type: address-group
  name: servers
  container: Shared
  payload:
    static: [web]
- type: security-rule
  name: allow-web
  container: Branch
  payload:
    source: [servers]
    destination: [any]
    service: [service-http]
- type: service
  name: service-http
  container: Shared
`

const targetEnvironment = `
apiVersion: confsync.io/v1
kind: Snapshot
metadata:
  source: lab
containers:
- name: Shared
  kind: folder
- name: Branch
  kind: folder
  parent: Shared
items:
- type: address
  name: web
  container: Shared
  payload:
    ip_netmask: 192.168.0.1/32
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--no-color"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCaptureValidateApply(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "source.yaml", sourceEnvironment)
	target := writeFile(t, dir, "target.yaml", targetEnvironment)
	snap := filepath.Join(dir, "snapshot.yaml")
	metrics := filepath.Join(dir, "metrics.prom")

	out, err := execute(t, "capture", "--environment", source, "--snapshot", snap, "--defaults", "filter")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Wrote 3 items")
	assert.Contains(t, out, "Branch (folder, 1 items)")

	out, err = execute(t, "validate", "--snapshot", snap)
	require.NoError(t, err, out)
	assert.Contains(t, out, "references undefined")
	assert.Contains(t, out, "Apply levels:")

	_, err = execute(t, "validate", "--snapshot", snap, "--strict")
	assert.Error(t, err)

	out, err = execute(t, "apply", "--environment", target, "--snapshot", snap,
		"--strategy", "rename", "--metrics-file", metrics)
	require.NoError(t, err, out)
	assert.Contains(t, out, "web -> web-1")

	env, err := memory.Load(target)
	require.NoError(t, err)
	doc := env.Document()
	assert.Equal(t, 4, doc.Len())
	rule, ok := doc.Item(document.ItemKey{Type: document.TypeSecurityRule, Container: "Branch", Name: "allow-web"})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"servers"}, rule.Payload["source"])
	group, ok := doc.Item(document.ItemKey{Type: document.TypeAddressGroup, Container: "Shared", Name: "servers"})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"web-1"}, group.Payload["static"])

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `confsync_runs_total{mode="apply",state="Done"} 1`)
}

func TestApplyDryRunLeavesEnvironment(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "source.yaml", sourceEnvironment)
	target := writeFile(t, dir, "target.yaml", targetEnvironment)

	out, err := execute(t, "apply", "--environment", target, "--snapshot", source, "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "dry-run-would-apply")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, targetEnvironment, string(data))
}

func TestCommandsRejectBadInput(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "source.yaml", sourceEnvironment)

	tests := map[string][]string{
		"missing snapshot flag": {"capture", "--environment", source},
		"unknown strategy":      {"apply", "--environment", source, "--snapshot", source, "--strategy", "replace"},
		"unknown type":          {"capture", "--environment", source, "--snapshot", filepath.Join(dir, "x.yaml"), "--types", "nat-rule"},
		"missing file":          {"validate", "--snapshot", filepath.Join(dir, "absent.yaml")},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, args...)
			assert.Error(t, err)
		})
	}
}
