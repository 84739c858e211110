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

const (
	// DefaultMaxCGIterations is the default bound on outer call-graph rounds.
	DefaultMaxCGIterations = 5
	// DefaultMaxCallees is the default bound on resolved targets per indirect call site.
	DefaultMaxCallees = 5
	// DefaultMaxValuesPerBlock bounds values collected from one block in a memory query.
	DefaultMaxValuesPerBlock = 1000
	// DefaultMaxBlocksPerQuery bounds dominating blocks walked in a memory query.
	DefaultMaxBlocksPerQuery = 50
	// DefaultMaxValuesPerQuery bounds the total values collected by a memory query.
	DefaultMaxValuesPerQuery = 5000
	// DefaultMaxPhiFrontier bounds the weak join entries placed per store.
	DefaultMaxPhiFrontier = 100
	// DefaultMaxPointsToSize bounds the cardinality of a resolved points-to set.
	DefaultMaxPointsToSize = 100
	// DefaultMaxAccessPathDepth bounds the object-to-call-site distance search.
	DefaultMaxAccessPathDepth = 5
	// DefaultMaxSummaryDepth bounds the access-path level kept in interface summaries.
	DefaultMaxSummaryDepth = 2
	// DefaultMaxSummarySize bounds the inputs and outputs kept in interface summaries.
	DefaultMaxSummarySize = 100
)
