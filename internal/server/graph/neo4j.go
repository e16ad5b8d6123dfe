package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/core"
	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/cypher"
	"github.com/systemshift/bizops/internal/server/diff"
	"github.com/systemshift/bizops/internal/server/logging"
	"github.com/systemshift/bizops/internal/server/schema"
)

// Module provides the Neo4j backed Repository
var Module = fx.Module("graph",
	fx.Provide(
		fx.Annotate(NewNeo4j, fx.As(new(Repository))),
	),
	fx.Invoke(RegisterLifecycle),
)

// Config holds Neo4j connection configuration
type Config struct {
	URI            string
	Username       string
	Password       string
	Database       string
	MaxPoolSize    int
	AcquireTimeout time.Duration
	MaxTxRetryTime time.Duration
}

// Neo4jRepository wraps Neo4j operations
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
	builder  *cypher.Builder
	log      *zap.Logger
}

// New creates a repository. The driver connects lazily; call Health to
// verify connectivity.
func New(cfg Config, builder *cypher.Builder, log *zap.Logger) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.AcquireTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cfg.AcquireTimeout
			}
			if cfg.MaxTxRetryTime > 0 {
				c.MaxTransactionRetryTime = cfg.MaxTxRetryTime
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	return &Neo4jRepository{
		driver:   driver,
		database: cfg.Database,
		builder:  builder,
		log:      log.With(logging.Component("graph")),
	}, nil
}

// NewNeo4j creates a repository from application config
func NewNeo4j(cfg *config.Config, builder *cypher.Builder, log *zap.Logger) (*Neo4jRepository, error) {
	return New(Config{
		URI:            cfg.Neo4j.URI,
		Username:       cfg.Neo4j.Username,
		Password:       cfg.Neo4j.Password,
		Database:       cfg.Neo4j.Database,
		MaxPoolSize:    cfg.Neo4j.MaxPoolSize,
		AcquireTimeout: cfg.Neo4j.AcquireTimeout,
		MaxTxRetryTime: cfg.Neo4j.MaxTxRetryTime,
	}, builder, log)
}

// RegisterLifecycle verifies connectivity and ensures constraints on start,
// and closes the driver on stop
func RegisterLifecycle(lc fx.Lifecycle, cfg *config.Config, repo Repository, registry *schema.Registry, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := repo.Health(ctx); err != nil {
				return fmt.Errorf("connecting to neo4j: %w", err)
			}
			if cfg.Neo4j.EnsureConstraints {
				if err := repo.EnsureConstraints(ctx, registry.Current().TypeNames()); err != nil {
					return err
				}
			}
			log.Info("connected to neo4j", zap.String("uri", cfg.Neo4j.URI), zap.String("database", cfg.Neo4j.Database))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if closer, ok := repo.(interface{ Close(context.Context) error }); ok {
				return closer.Close(ctx)
			}
			return nil
		},
	})
}

// Close closes the Neo4j connection
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Health verifies connectivity with a short timeout
func (r *Neo4jRepository) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.driver.VerifyConnectivity(healthCtx)
}

// EnsureConstraints creates a uniqueness constraint on code for every label
func (r *Neo4jRepository) EnsureConstraints(ctx context.Context, labels []string) error {
	for _, label := range labels {
		st := r.builder.EnsureConstraint(label)
		if _, err := r.run(ctx, st); err != nil {
			return fmt.Errorf("ensuring constraint on %s: %w", label, err)
		}
	}
	r.log.Info("constraints ensured", zap.Int("labels", len(labels)))
	return nil
}

func (r *Neo4jRepository) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database, AccessMode: mode})
}

// read runs a read-only statement in a managed read transaction
func (r *Neo4jRepository) read(ctx context.Context, st cypher.Statement) ([]*neo4j.Record, error) {
	session := r.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, st.Query, st.Params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

// run executes a single statement in an auto-commit transaction
func (r *Neo4jRepository) run(ctx context.Context, st cypher.Statement) ([]*neo4j.Record, error) {
	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, st.Query, st.Params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// execute runs a plan. A single statement auto-commits; anything more runs
// in one managed write transaction, guard first. The records of the last
// statement are returned.
func (r *Neo4jRepository) execute(ctx context.Context, plan cypher.Plan) ([]*neo4j.Record, error) {
	if plan.Len() == 1 {
		return r.run(ctx, plan.Statements[0])
	}

	session := r.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	records, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if plan.Guard != nil {
			result, err := tx.Run(ctx, plan.Guard.Query, plan.Guard.Params)
			if err != nil {
				return nil, err
			}
			missing, err := result.Collect(ctx)
			if err != nil {
				return nil, err
			}
			if len(missing) > 0 {
				return nil, missingRelated(missing[0])
			}
		}

		var last []*neo4j.Record
		for _, st := range plan.Statements {
			result, err := tx.Run(ctx, st.Query, st.Params)
			if err != nil {
				return nil, err
			}
			if last, err = result.Collect(ctx); err != nil {
				return nil, err
			}
		}
		return last, nil
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

// ReadNode reads a node with its relationships
func (r *Neo4jRepository) ReadNode(ctx context.Context, ref core.NodeRef) (core.Record, error) {
	records, err := r.read(ctx, r.builder.ReadNode(ref))
	if err != nil {
		return nil, r.classify(err, ref)
	}
	return decodeNode(records)
}

// WriteNode runs the statements for a diffed node write
func (r *Neo4jRepository) WriteNode(ctx context.Context, mode cypher.WriteMode, req *core.WriteRequest, d diff.Result, stamp core.Stamp) (core.Record, error) {
	plan := r.builder.WriteNode(mode, req, d, stamp)
	r.log.Debug("writing node",
		zap.String("requestId", req.RequestID),
		zap.Stringer("node", req.Ref()),
		zap.Int("statements", plan.Len()))

	records, err := r.execute(ctx, plan)
	if err != nil {
		return nil, r.classify(err, req.Ref())
	}
	rec, err := decodeNode(records)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("write of %s returned no node", req.Ref())
	}
	return rec, nil
}

// SoftDeleteNode flags a node as deleted
func (r *Neo4jRepository) SoftDeleteNode(ctx context.Context, ref core.NodeRef, stamp core.Stamp) (bool, error) {
	records, err := r.run(ctx, r.builder.SoftDelete(ref, stamp))
	if err != nil {
		return false, r.classify(err, ref)
	}
	return len(records) > 0, nil
}

// MergeNodes folds the source node into the destination in one transaction
func (r *Neo4jRepository) MergeNodes(ctx context.Context, req *core.MergeRequest, moved []core.RelationshipRow, fill map[string]any, stamp core.Stamp) (core.Record, error) {
	dest := core.NodeRef{Type: req.NodeType, Code: req.DestinationCode}
	records, err := r.execute(ctx, r.builder.MergeNodes(req, moved, fill, stamp))
	if err != nil {
		return nil, r.classify(err, dest)
	}
	rec, err := decodeNode(records)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("merge into %s returned no node", dest)
	}
	return rec, nil
}

// ReadRelationship reads one relationship
func (r *Neo4jRepository) ReadRelationship(ctx context.Context, from core.NodeRef, relType string, to core.NodeRef) (*core.Relationship, error) {
	records, err := r.read(ctx, r.builder.ReadRelationship(from, relType, to))
	if err != nil {
		return nil, r.classify(err, from)
	}
	return decodeRelationship(records, from, to)
}

// CreateRelationship creates one relationship
func (r *Neo4jRepository) CreateRelationship(ctx context.Context, w *core.RelationshipWrite, stamp core.Stamp) (*core.Relationship, error) {
	records, err := r.run(ctx, r.builder.CreateRelationship(w, stamp))
	if err != nil {
		return nil, r.classify(err, w.From)
	}
	return decodeRelationship(records, w.From, w.To)
}

// PatchRelationship creates or updates one relationship
func (r *Neo4jRepository) PatchRelationship(ctx context.Context, w *core.RelationshipWrite, stamp core.Stamp) (*core.Relationship, error) {
	records, err := r.run(ctx, r.builder.PatchRelationship(w, stamp))
	if err != nil {
		return nil, r.classify(err, w.From)
	}
	return decodeRelationship(records, w.From, w.To)
}

// DeleteRelationship removes one relationship
func (r *Neo4jRepository) DeleteRelationship(ctx context.Context, from core.NodeRef, relType string, to core.NodeRef) (bool, error) {
	records, err := r.run(ctx, r.builder.DeleteRelationship(from, relType, to))
	if err != nil {
		return false, r.classify(err, from)
	}
	if len(records) == 0 {
		return false, nil
	}
	deleted, _ := records[0].Get("deleted")
	n, _ := deleted.(int64)
	return n > 0, nil
}
