package nodes

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// postgresQueryNode runs one parameterized query against PostgreSQL per
// received item, grounded on internal/platform/database/database.go's
// connection setup and the teacher's query/select split for MySQL, the
// closest in-pack node to a generic SQL leaf.
type postgresQueryNode struct {
	db          *sql.DB
	dsn         string
	query       string
	credentials noderuntime.CredentialResolver
	credID      string
}

func newPostgresQueryNode() noderuntime.Node {
	return &postgresQueryNode{}
}

func (n *postgresQueryNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "postgres_query",
		Label:       "Postgres Query",
		Category:    "integration",
		Description: "Execute a parameterized query against PostgreSQL for every item received",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "out", Role: "success"},
			{Name: "error", Role: "error"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "query", Label: "Query", Type: noderuntime.PropertyCode, Required: true},
			{Name: "credentialId", Label: "Credential", Type: noderuntime.PropertyText, Required: true},
			{Name: "params", Label: "Parameters", Type: noderuntime.PropertyJSON},
		},
	}
}

func (n *postgresQueryNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.query = stringConfig(config, "query", "")
	if n.query == "" {
		return fmt.Errorf("postgres_query: query is required")
	}
	n.credID = stringConfig(config, "credentialId", "")
	n.credentials = creds
	return nil
}

func (n *postgresQueryNode) connect(ctx context.Context) (*sql.DB, error) {
	if n.db != nil {
		return n.db, nil
	}
	creds, err := n.credentials.Resolve(ctx, n.credID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		creds["host"], defaultString(creds["port"], "5432"), creds["user"], creds["password"], creds["database"])
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	n.db = db
	return db, nil
}

func (n *postgresQueryNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	defer func() {
		if n.db != nil {
			n.db.Close()
		}
	}()

	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}
		item, _ := v.ToGo().(map[string]interface{})

		result, queryErr := n.runQuery(ctx, item)
		if queryErr != nil {
			if err := outputs[1].Send(ctx, value.FromGo(map[string]interface{}{"error": queryErr.Error()})); err != nil {
				return err
			}
			continue
		}
		if err := outputs[0].Send(ctx, value.FromGo(result)); err != nil {
			return err
		}
	}
}

func (n *postgresQueryNode) runQuery(ctx context.Context, item map[string]interface{}) (map[string]interface{}, error) {
	db, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}

	params, _ := item["params"].([]interface{})

	rows, err := db.QueryContext(ctx, n.query, params...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanSQLRows(rows)
}

func init() {
	noderuntime.Register("postgres_query", newPostgresQueryNode)
}
