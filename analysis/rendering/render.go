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

package render

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Yanhaoxi/lotus-zju-sub003/analysis/config"
	"github.com/Yanhaoxi/lotus-zju-sub003/analysis/lotusaa"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"
)

// ExcludedNodes lists function names that only add noise to a rendered call
// graph.
var ExcludedNodes = []string{"String", "GoString", "init", "Error", "Code", "Message", "Err", "OrigErr"}

func fnName(f *ssa.Function) string {
	if f == nil {
		return ""
	}
	return f.Name()
}

func pkgPath(f *ssa.Function) string {
	if f == nil || f.Package() == nil {
		return ""
	}
	return f.Package().Pkg.Path()
}

func filterEdge(caller, callee *ssa.Function) bool {
	for _, name := range ExcludedNodes {
		if fnName(caller) == name || fnName(callee) == name {
			return false
		}
	}
	return true
}

// WriteGraphviz writes a graphviz representation of the resolved call-graph to w.
// Only edges between functions passing the package filter are rendered; recursion
// back edges are colored red.
func WriteGraphviz(cfg *config.Config, cg *lotusaa.CallGraphState, w io.Writer) error {
	if _, err := w.Write([]byte("digraph callgraph {\n")); err != nil {
		return fmt.Errorf("error while writing in file: %w", err)
	}
	for _, caller := range cg.Functions() {
		if !cfg.MatchPkgFilter(pkgPath(caller)) {
			continue
		}
		for _, callee := range cg.Callees(caller) {
			if !cfg.MatchPkgFilter(pkgPath(callee)) || !filterEdge(caller, callee) {
				continue
			}
			color := ""
			if cg.IsBackEdge(caller, callee) {
				color = " [color=red]"
			}
			s := fmt.Sprintf("  \"%s\" -> \"%s\"%s;\n", caller.String(), callee.String(), color)
			if _, err := w.Write([]byte(s)); err != nil {
				return fmt.Errorf("error while writing in file: %w", err)
			}
		}
	}
	if _, err := w.Write([]byte("}\n")); err != nil {
		return fmt.Errorf("error while writing in file: %w", err)
	}
	return nil
}

// GraphvizToFile writes the graphviz representation of the call-graph to a file
func GraphvizToFile(cfg *config.Config, cg *lotusaa.CallGraphState, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create file %s: %w", filename, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := WriteGraphviz(cfg, cg, w); err != nil {
		return err
	}
	return w.Flush()
}

// OutputSsaPackages writes the ssa representation of a program p.
// Each package is written in its own folder.
func OutputSsaPackages(p *ssa.Program, dirName string) error {
	allPackages := p.AllPackages()
	if len(allPackages) <= 0 {
		return nil
	}
	err := os.MkdirAll(dirName, 0700)
	if err != nil {
		return fmt.Errorf("could not create directory %s: %w", dirName, err)
	}
	for _, pkg := range allPackages {
		// Make a directory corresponding to the package path minus last elt
		appendDirPath, _ := filepath.Split(pkg.Pkg.Path())
		fullDirPath := filepath.Join(dirName, appendDirPath)
		err := os.MkdirAll(fullDirPath, 0700)
		if err != nil {
			return fmt.Errorf("could not create directory %s: %w", fullDirPath, err)
		}
		filename := filepath.Join(fullDirPath, pkg.Pkg.Name()+".ssa")
		packageToFile(p, pkg, filename)
	}
	return nil
}

func writeAnons(b bytes.Buffer, f *ssa.Function) {
	for _, anon := range f.AnonFuncs {
		ssa.WriteFunction(&b, anon)
		writeAnons(b, anon)
	}
}

func packageToFile(p *ssa.Program, pkg *ssa.Package, filename string) {
	file, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	defer w.Flush()

	var b bytes.Buffer

	// Write the package summary
	ssa.WritePackage(&b, pkg)
	// Write all the functions and members in buffer
	for _, pkgMember := range pkg.Members {
		switch pkgM := pkgMember.(type) {
		case *ssa.Function:
			ssa.WriteFunction(&b, pkgM)
			writeAnons(b, pkgM)
			b.WriteTo(w)
			b.Reset()
		case *ssa.Global:
			fmt.Fprintf(w, "%s\n", pkgM.String())
		case *ssa.Type:
			methods := typeutil.IntuitiveMethodSet(pkgM.Type(), &p.MethodSets)
			for _, sel := range methods {
				functionMethod := p.MethodValue(sel)
				if functionMethod != nil {
					ssa.WriteFunction(&b, functionMethod)
					b.WriteTo(w)
					b.Reset()
				}
			}
		}
	}
}
