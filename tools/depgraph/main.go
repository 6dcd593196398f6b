package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/tools/go/packages"
)

// Program depgraph generates a Graphviz DOT description of the
// package import graph of the module rooted in the current directory.
// Unlike the dependency graph tool it is adapted from (which shelled
// out to `go mod graph` for module-level edges), this walks the actual
// package import graph in-process via golang.org/x/tools/go/packages,
// so it reflects what's really imported rather than what's merely
// required.
//
// Any error loading packages results in panic; the DOT graph is
// printed to standard output.
func main() {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		panic(err)
	}

	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	fmt.Fprintln(writer, "digraph deps {")
	seen := map[string]bool{}
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for importPath := range pkg.Imports {
			edge := pkg.PkgPath + "\x00" + importPath
			if seen[edge] {
				continue
			}
			seen[edge] = true
			fmt.Fprintf(writer, "    %q -> %q;\n", pkg.PkgPath, importPath)
		}
	})
	fmt.Fprintln(writer, "}")
}
