// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseHosts = "127.0.0.1 localhost\n::1 localhost\n"

func TestGenerateHostsBlock(t *testing.T) {
	block := GenerateHostsBlock([]string{"api.shop.test", "web.shop.test"})

	assert.Equal(t,
		"# lo1-start\n127.0.0.1 api.shop.test\n127.0.0.1 web.shop.test\n# lo1-end\n",
		block)
}

func TestGenerateHostsBlock_EmptyDomains(t *testing.T) {
	assert.Equal(t, "", GenerateHostsBlock(nil))
	assert.Equal(t, "", GenerateHostsBlock([]string{}))
}

func TestReplaceHostsBlock_AppendsWhenAbsent(t *testing.T) {
	block := GenerateHostsBlock([]string{"api.shop.test"})
	out := ReplaceHostsBlock(baseHosts, block)

	assert.Equal(t, baseHosts+block, out)
}

func TestReplaceHostsBlock_ReplacesOnlyBracketedRegion(t *testing.T) {
	oldBlock := GenerateHostsBlock([]string{"old.shop.test"})
	content := baseHosts + oldBlock + "# user comment\n"

	newBlock := GenerateHostsBlock([]string{"new.shop.test"})
	out := ReplaceHostsBlock(content, newBlock)

	assert.Contains(t, out, "new.shop.test")
	assert.NotContains(t, out, "old.shop.test")
	assert.Contains(t, out, "# user comment", "content outside the markers survives")
	assert.Contains(t, out, "127.0.0.1 localhost")
}

func TestRemoveHostsBlock_RoundTrip(t *testing.T) {
	block := GenerateHostsBlock([]string{"api.shop.test"})

	// remove(replace(X, B)) == X for marker-free X.
	out := RemoveHostsBlock(ReplaceHostsBlock(baseHosts, block))
	assert.Equal(t, baseHosts, out)
}

func TestRemoveHostsBlock_NoMarkers(t *testing.T) {
	assert.Equal(t, baseHosts, RemoveHostsBlock(baseHosts))
}

func TestWriter_ApplyAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(path, []byte(baseHosts), 0644))

	w := &Writer{Path: path}
	require.NoError(t, w.Apply([]string{"api.shop.test"}))

	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "127.0.0.1 api.shop.test")

	// Re-applying the same domains is a no-op rewrite.
	require.NoError(t, w.Apply([]string{"api.shop.test"}))
	again, _ := os.ReadFile(path)
	assert.Equal(t, string(data), string(again))

	require.NoError(t, w.Remove())
	final, _ := os.ReadFile(path)
	assert.Equal(t, baseHosts, string(final))
}

func TestWriter_MissingFile(t *testing.T) {
	w := &Writer{Path: filepath.Join(t.TempDir(), "absent")}
	err := w.Apply([]string{"x.test"})
	require.Error(t, err)

	var hostsErr *HostsError
	require.ErrorAs(t, err, &hostsErr)
	assert.Equal(t, "apply", hostsErr.Op)
}
