// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(name, []byte(contents), 0600))
	return name
}

func TestNewDefault(t *testing.T) {
	c := NewDefault()
	assert.True(t, c.EnableCallGraph)
	assert.True(t, c.GlobalHeuristic)
	assert.Equal(t, DefaultMaxCGIterations, c.MaxCGIterations)
	assert.Equal(t, DefaultMaxCallees, c.MaxCallees)
	assert.Equal(t, DefaultMaxPointsToSize, c.MaxPointsToSize)
	assert.Equal(t, int(InfoLevel), c.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	name := writeConfig(t, `
log-level: 4
enable-call-graph: false
max-cg-iterations: 3
max-callees: 10
num-threads: 2
max-blocks-per-query: -1
print-points-to: true
`)
	c, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, int(DebugLevel), c.LogLevel)
	assert.False(t, c.EnableCallGraph)
	assert.Equal(t, 3, c.MaxCGIterations)
	assert.Equal(t, 10, c.MaxCallees)
	assert.Equal(t, 2, c.Workers())
	assert.True(t, Unlimited(c.MaxBlocksPerQuery))
	assert.True(t, c.PrintPointsTo)
	assert.True(t, c.Verbose())
}

func TestLoadAppliesDefaultsForOmittedBounds(t *testing.T) {
	name := writeConfig(t, "log-level: 3\n")
	c, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCGIterations, c.MaxCGIterations)
	assert.Equal(t, DefaultMaxAccessPathDepth, c.MaxAccessPathDepth)
	assert.Equal(t, DefaultMaxSummarySize, c.MaxSummarySize)
	assert.False(t, c.Verbose())
}

func TestLoadRejectsBadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	name := writeConfig(t, "log-level: [not, an, int]\n")
	_, err = Load(name)
	assert.Error(t, err)
}

func TestMatchPkgFilter(t *testing.T) {
	name := writeConfig(t, "pkg-filter: \"^example.com/app\"\n")
	c, err := Load(name)
	require.NoError(t, err)
	assert.True(t, c.MatchPkgFilter("example.com/app/internal"))
	assert.False(t, c.MatchPkgFilter("example.com/other"))

	c = NewDefault()
	assert.True(t, c.MatchPkgFilter("anything"))
}
