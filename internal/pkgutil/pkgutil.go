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

// Package pkgutil loads Go packages for tests, including packages given as
// in-memory source strings.
package pkgutil

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// LoadMode is equivalent to packages.LoadAllSyntax (which is deprecated)
const LoadMode = packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypes |
	packages.NeedTypesSizes | packages.NeedImports | packages.NeedName |
	packages.NeedFiles | packages.NeedCompiledGoFiles | packages.NeedDeps

// LoadPackagesFromSource type-checks a single package given as a source string.
// The Overlay mechanism lets the loader see a file that does not exist on disk.
func LoadPackagesFromSource(source string) ([]*packages.Package, error) {
	config := &packages.Config{
		Mode:  LoadMode,
		Tests: false,
		Dir:   "",
		Env:   append(os.Environ(), "GO111MODULE=off", "GOPATH=/fake"),
		Overlay: map[string][]byte{
			"/fake/testpackage/main.go": []byte(source),
		},
	}

	return LoadPackagesWithConfig(config, "/fake/testpackage/main.go")
}

// LoadPackagesWithConfig runs packages.Load and reports load errors as a single error.
func LoadPackagesWithConfig(config *packages.Config, queries ...string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(config, queries...)
	switch {
	case err != nil:
		return nil, err
	case packages.PrintErrors(pkgs) > 0:
		return pkgs, errors.New("errors encountered while loading packages")
	default:
		return pkgs, nil
	}
}

// BuildSSAFromSource loads a package from source and builds SSA for the whole
// program with the given builder mode.
func BuildSSAFromSource(source string, mode ssa.BuilderMode) (*ssa.Program, []*ssa.Package, error) {
	pkgs, err := LoadPackagesFromSource(source)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load source: %w", err)
	}
	prog, ssaPkgs := ssautil.AllPackages(pkgs, mode)
	prog.Build()
	return prog, ssaPkgs, nil
}
