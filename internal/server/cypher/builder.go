// Package cypher builds the parameterized statements the service runs
// against Neo4j. Labels, relationship types and property names are
// validated upstream and only ever interpolated through ident; every value
// travels as a parameter.
package cypher

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/fx"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/config"
)

// Module provides the query builder
var Module = fx.Module("cypher",
	fx.Provide(NewFromConfig),
)

// DefaultBatchSize caps how many relationship targets one statement writes
const DefaultBatchSize = 50

// Statement is one parameterized Cypher statement
type Statement struct {
	Query  string
	Params map[string]any
}

// Plan is the statements of one write. Guard, when set, runs first and
// returns a (type, code) row for every related node that does not exist.
// The last statement returns the rows the result is decoded from.
type Plan struct {
	Guard      *Statement
	Statements []Statement
}

// Len counts every statement the plan runs
func (p Plan) Len() int {
	n := len(p.Statements)
	if p.Guard != nil {
		n++
	}
	return n
}

// Builder produces statements
type Builder struct {
	batchSize int
}

// New creates a builder that splits relationship writes into batches of
// batchSize targets
func New(batchSize int) *Builder {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Builder{batchSize: batchSize}
}

// NewFromConfig creates a builder using RELATIONSHIP_BATCH_SIZE
func NewFromConfig(cfg *config.Config) *Builder {
	return New(cfg.Write.RelationshipBatchSize)
}

// BatchSize returns the configured batch size
func (b *Builder) BatchSize() int {
	return b.batchSize
}

var plainIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ident renders a label, type or property name, quoting anything unusual
func ident(name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// arrow renders a relationship pattern from the written node's side
func arrow(dir core.Direction, variable, relType string) string {
	if dir == core.Incoming {
		return fmt.Sprintf("<-[%s:%s]-", variable, ident(relType))
	}
	return fmt.Sprintf("-[%s:%s]->", variable, ident(relType))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateMeta stamps both the created and updated metadata
func CreateMeta(s core.Stamp) map[string]any {
	meta := UpdateMeta(s)
	meta[core.PropCreatedByRequest] = s.RequestID
	meta[core.PropCreatedByClient] = s.ClientID
	meta[core.PropCreatedByUser] = nullable(s.UserID)
	meta[core.PropCreatedTimestamp] = s.Timestamp
	return meta
}

// UpdateMeta stamps the updated metadata
func UpdateMeta(s core.Stamp) map[string]any {
	return map[string]any{
		core.PropUpdatedByRequest: s.RequestID,
		core.PropUpdatedByClient:  s.ClientID,
		core.PropUpdatedByUser:    nullable(s.UserID),
		core.PropUpdatedTimestamp: s.Timestamp,
	}
}

// readBack is appended to a statement whose current row holds `node`
const readBack = `
WITH DISTINCT node
OPTIONAL MATCH (node)-[relationship]-(related)
RETURN node, relationship, related`

// ReadNode reads a node and every relationship it takes part in
func (b *Builder) ReadNode(ref core.NodeRef) Statement {
	return Statement{
		Query:  fmt.Sprintf("MATCH (node:%s {code: $code})", ident(ref.Type)) + readBack,
		Params: map[string]any{"code": ref.Code},
	}
}

// EnsureConstraint makes code unique within a label
func (b *Builder) EnsureConstraint(label string) Statement {
	return Statement{
		Query: fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.code IS UNIQUE",
			ident("bizops_"+label+"_code"), ident(label)),
	}
}
