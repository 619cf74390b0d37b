// Package goparser is a reference Parser implementation for Go source,
// used to exercise the indexing pipeline end to end without a tree-sitter
// grammar (see DESIGN.md for why the core doesn't link one). Real
// deployments register a parser per language behind parser.Registry; this
// one demonstrates the contract using go/ast from the standard library,
// which is the idiomatic choice for parsing Go itself.
package goparser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"

	reviewparser "github.com/coderisk/reviewcore/internal/parser"
	"github.com/coderisk/reviewcore/internal/symbolgraph"
)

// Parser implements reviewparser.Parser for .go files.
type Parser struct{}

// New creates a Go source parser.
func New() *Parser { return &Parser{} }

// Extensions implements reviewparser.Parser.
func (p *Parser) Extensions() []string { return []string{".go"} }

// Parse implements reviewparser.Parser.
func (p *Parser) Parse(path string, content []byte, repoID string) (*reviewparser.FileResult, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("goparser: parse %s: %w", path, err)
	}

	result := &reviewparser.FileResult{}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			sym := funcSymbol(fset, path, repoID, d)
			result.Symbols = append(result.Symbols, sym)
			result.Edges = append(result.Edges, callEdgesFromBody(sym.ID, repoID, d.Body)...)
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					result.Symbols = append(result.Symbols, typeSymbol(fset, path, repoID, d, s))
				case *ast.ImportSpec:
					result.Edges = append(result.Edges, importEdge(path, repoID, s))
				}
			}
		}
	}

	return result, nil
}

func funcSymbol(fset *token.FileSet, path, repoID string, d *ast.FuncDecl) symbolgraph.Symbol {
	kind := symbolgraph.KindFunction
	qualified := d.Name.Name
	if d.Recv != nil && len(d.Recv.List) > 0 {
		kind = symbolgraph.KindMethod
		qualified = receiverTypeName(d.Recv.List[0].Type) + "." + d.Name.Name
	}

	start := fset.Position(d.Pos()).Line
	end := fset.Position(d.End()).Line

	var doc string
	if d.Doc != nil {
		doc = d.Doc.Text()
	}

	return symbolgraph.Symbol{
		ID:            symbolgraph.SymbolID(path, qualified),
		RepoID:        repoID,
		FilePath:      path,
		Name:          d.Name.Name,
		QualifiedName: qualified,
		Kind:          kind,
		Signature:     signatureOf(d),
		StartLine:     start,
		EndLine:       end,
		DocComment:    doc,
	}
}

func typeSymbol(fset *token.FileSet, path, repoID string, gd *ast.GenDecl, s *ast.TypeSpec) symbolgraph.Symbol {
	kind := symbolgraph.KindType
	if _, ok := s.Type.(*ast.InterfaceType); ok {
		kind = symbolgraph.KindInterface
	} else if _, ok := s.Type.(*ast.StructType); ok {
		kind = symbolgraph.KindClass
	}

	start := fset.Position(s.Pos()).Line
	end := fset.Position(s.End()).Line

	var doc string
	if gd.Doc != nil {
		doc = gd.Doc.Text()
	} else if s.Doc != nil {
		doc = s.Doc.Text()
	}

	return symbolgraph.Symbol{
		ID:            symbolgraph.SymbolID(path, s.Name.Name),
		RepoID:        repoID,
		FilePath:      path,
		Name:          s.Name.Name,
		QualifiedName: s.Name.Name,
		Kind:          kind,
		StartLine:     start,
		EndLine:       end,
		DocComment:    doc,
	}
}

func importEdge(path, repoID string, s *ast.ImportSpec) symbolgraph.Edge {
	target := s.Path.Value
	if len(target) >= 2 {
		target = target[1 : len(target)-1]
	}
	return symbolgraph.Edge{
		From:   path,
		To:     target,
		Kind:   symbolgraph.EdgeImports,
		RepoID: repoID,
	}
}

// callEdgesFromBody walks the function body and emits a bare-name calls
// edge for every call expression whose callee is a simple identifier or a
// selector (pkg.Func / recv.Method) — qualification beyond the short name
// is out of scope here; the graph's short-name index resolves it.
func callEdgesFromBody(fromID, repoID string, body *ast.BlockStmt) []symbolgraph.Edge {
	if body == nil {
		return nil
	}
	var edges []symbolgraph.Edge
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := calleeName(call.Fun)
		if name == "" {
			return true
		}
		edges = append(edges, symbolgraph.Edge{
			From:   fromID,
			To:     name,
			Kind:   symbolgraph.EdgeCalls,
			RepoID: repoID,
		})
		return true
	})
	return edges
}

func calleeName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.SelectorExpr:
		return e.Sel.Name
	default:
		return ""
	}
}

func receiverTypeName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(e.X)
	case *ast.Ident:
		return e.Name
	default:
		return ""
	}
}

func signatureOf(d *ast.FuncDecl) string {
	name := d.Name.Name
	params := fieldListString(d.Type.Params)
	results := fieldListString(d.Type.Results)
	if results == "" {
		return fmt.Sprintf("func %s(%s)", name, params)
	}
	return fmt.Sprintf("func %s(%s) %s", name, params, results)
}

func fieldListString(fl *ast.FieldList) string {
	if fl == nil {
		return ""
	}
	out := ""
	for i, f := range fl.List {
		if i > 0 {
			out += ", "
		}
		out += exprString(f.Type)
	}
	return out
}

func exprString(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		return "[]" + exprString(t.Elt)
	default:
		return "any"
	}
}
