package trellis

import "fmt"

// Adapter parses source files of one language into canonical parse trees.
// Implementations live outside the engine; nothing downstream of this
// interface inspects language-specific syntax. Adapters must be safe for
// concurrent use, since Parse is called from several workers at once.
type Adapter interface {
	// Language returns the language tag this adapter handles, e.g. "java".
	Language() string
	// Parse converts one source file into a canonical parse tree.
	Parse(path string) (*ParseTree, error)
}

// ParseTree is the canonical output of parsing one source file: the
// declaration tree plus the references recorded while parsing. Adapters
// emit canonical kinds only.
type ParseTree struct {
	Path     string       `json:"path"`
	Language string       `json:"language"`
	Package  string       `json:"package,omitempty"` // enclosing package qualified name, when the language has one
	Lines    int          `json:"lines"`
	Nodes    []*ParseNode `json:"nodes,omitempty"` // top-level declarations
	Refs     []ParseRef   `json:"refs,omitempty"`  // file-level references: imports, file annotations
}

// ParseNode is one declaration in a parse tree. QualifiedName may be left
// empty; extraction derives it from the enclosing declaration path.
type ParseNode struct {
	Kind          NodeKind     `json:"kind"`
	Name          string       `json:"name"`
	QualifiedName string       `json:"qualified_name,omitempty"`
	Visibility    Visibility   `json:"visibility,omitempty"`
	StartLine     int          `json:"start_line"`
	EndLine       int          `json:"end_line"`
	Signature     string       `json:"signature,omitempty"`
	ReturnType    string       `json:"return_type,omitempty"`
	Modifiers     []string     `json:"modifiers,omitempty"`
	Children      []*ParseNode `json:"children,omitempty"`
	Refs          []ParseRef   `json:"refs,omitempty"`
}

// ParseRef records one reference from a declaration to a qualified name: a
// call, an import, a supertype, a used type or an annotation. The target
// may live in another file or outside the indexed set entirely; resolution
// decides that later.
type ParseRef struct {
	Kind   RelKind `json:"kind"`
	Target string  `json:"target"`
	Line   int     `json:"line,omitempty"`
	Alias  string  `json:"alias,omitempty"` // import alias, when applicable
}

// ParseError reports one file an adapter could not parse. It never aborts
// a build; the file is counted failed and skipped.
type ParseError struct {
	Path     string
	Language string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %v", e.Path, e.Language, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
