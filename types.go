package trellis

import (
	"github.com/jward/trellis/internal/schema"
	"github.com/jward/trellis/internal/store"
)

// Public type aliases for internal graph types used across the API. These
// are Go type aliases (=), identical to the internal types at compile time.
// External consumers use these names; no conversion is needed.

type Node = schema.Node
type Relationship = schema.Relationship
type NodeKind = schema.NodeKind
type RelKind = schema.RelKind
type Visibility = schema.Visibility
type UnresolvedReference = schema.UnresolvedReference
type SchemaViolation = schema.SchemaViolation

type Store = store.Store
type Gateway = store.Gateway
type BatchStats = store.BatchStats
type PersistenceError = store.PersistenceError
type BuildRecord = store.BuildRecord
type FileInfo = store.FileInfo
type UnresolvedRow = store.UnresolvedRow

// Canonical node kinds, re-exported so adapters and consumers never import
// internal packages.
const (
	KindFile        = schema.KindFile
	KindPackage     = schema.KindPackage
	KindClass       = schema.KindClass
	KindInterface   = schema.KindInterface
	KindEnum        = schema.KindEnum
	KindFunction    = schema.KindFunction
	KindMethod      = schema.KindMethod
	KindConstructor = schema.KindConstructor
	KindField       = schema.KindField
	KindVariable    = schema.KindVariable
	KindParameter   = schema.KindParameter
	KindImport      = schema.KindImport
	KindAnnotation  = schema.KindAnnotation
)

// Canonical relationship kinds.
const (
	RelContains    = schema.RelContains
	RelCalls       = schema.RelCalls
	RelImports     = schema.RelImports
	RelExtends     = schema.RelExtends
	RelImplements  = schema.RelImplements
	RelOverrides   = schema.RelOverrides
	RelUsesType    = schema.RelUsesType
	RelAnnotatedBy = schema.RelAnnotatedBy
)

// Normalized visibility levels.
const (
	VisibilityPublic    = schema.VisibilityPublic
	VisibilityPrivate   = schema.VisibilityPrivate
	VisibilityProtected = schema.VisibilityProtected
	VisibilityPackage   = schema.VisibilityPackage
)

// NodeID derives the deterministic node ID for a (file path, qualified
// name, kind) triple. Adapters never compute IDs; this is exported for
// tooling that needs to address nodes it knows the coordinates of.
func NodeID(filePath, qualifiedName string, kind NodeKind) string {
	return schema.NodeID(filePath, qualifiedName, kind)
}
