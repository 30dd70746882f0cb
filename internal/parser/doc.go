// Package parser is the ANTLR4-generated FHIRPath recognizer: the lexer and
// parser tables produced from grammar/FHIRPath.g4 by `go generate ./...`,
// plus the ParserContext tree the expression package walks.
//
// It is never hand-edited. Re-running the generator after a grammar change
// is the only supported way to update it; treat it as a black-box
// recognizer, not application code.
package parser
