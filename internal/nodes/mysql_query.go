package nodes

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// mysqlQueryNode runs one parameterized query or exec against MySQL per
// received item, grounded directly on internal/node/runtime/nodes/mysql_node.go's
// executeQuery split between SELECT and modification statements.
type mysqlQueryNode struct {
	db          *sql.DB
	query       string
	credentials noderuntime.CredentialResolver
	credID      string
}

func newMySQLQueryNode() noderuntime.Node {
	return &mysqlQueryNode{}
}

func (n *mysqlQueryNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "mysql_query",
		Label:       "MySQL Query",
		Category:    "integration",
		Description: "Execute a parameterized query against MySQL for every item received",
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

func (n *mysqlQueryNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.query = stringConfig(config, "query", "")
	if n.query == "" {
		return fmt.Errorf("mysql_query: query is required")
	}
	n.credID = stringConfig(config, "credentialId", "")
	n.credentials = creds
	return nil
}

func (n *mysqlQueryNode) connect(ctx context.Context) (*sql.DB, error) {
	if n.db != nil {
		return n.db, nil
	}
	creds, err := n.credentials.Resolve(ctx, n.credID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		creds["user"], creds["password"], creds["host"], defaultString(creds["port"], "3306"), creds["database"])
	db, err := sql.Open("mysql", dsn)
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

func (n *mysqlQueryNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
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

func (n *mysqlQueryNode) runQuery(ctx context.Context, item map[string]interface{}) (map[string]interface{}, error) {
	db, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}
	params, _ := item["params"].([]interface{})

	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(n.query)), "SELECT") {
		rows, err := db.QueryContext(ctx, n.query, params...)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		return scanSQLRows(rows)
	}

	result, err := db.ExecContext(ctx, n.query, params...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	affected, _ := result.RowsAffected()
	lastID, _ := result.LastInsertId()
	return map[string]interface{}{"affectedRows": affected, "lastInsertId": lastID}, nil
}

func init() {
	noderuntime.Register("mysql_query", newMySQLQueryNode)
}
