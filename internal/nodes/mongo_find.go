package nodes

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// mongoFindNode looks up documents in a MongoDB collection per received
// item, grounded on internal/node/runtime/nodes/mongodb_node.go's find
// operation (the node only implements the read path; write operations
// are left to postgres_query/mysql_query since RustFlow's domain slice
// needs one representative document-store query leaf, not a full CRUD
// surface for every backing store).
type mongoFindNode struct {
	client      *mongo.Client
	database    string
	collection  string
	credentials noderuntime.CredentialResolver
	credID      string
	limit       int64
}

func newMongoFindNode() noderuntime.Node {
	return &mongoFindNode{}
}

func (n *mongoFindNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "mongo_find",
		Label:       "MongoDB Find",
		Category:    "integration",
		Description: "Find documents in a MongoDB collection using the item's filter for every item received",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "out", Role: "success"},
			{Name: "error", Role: "error"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "credentialId", Label: "Credential", Type: noderuntime.PropertyText, Required: true},
			{Name: "database", Label: "Database", Type: noderuntime.PropertyText, Required: true},
			{Name: "collection", Label: "Collection", Type: noderuntime.PropertyText, Required: true},
			{Name: "limit", Label: "Limit", Type: noderuntime.PropertyNumber, Default: 0},
		},
	}
}

func (n *mongoFindNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.database = stringConfig(config, "database", "")
	n.collection = stringConfig(config, "collection", "")
	if n.database == "" || n.collection == "" {
		return fmt.Errorf("mongo_find: database and collection are required")
	}
	n.credID = stringConfig(config, "credentialId", "")
	n.credentials = creds
	n.limit = int64(intConfig(config, "limit", 0))
	return nil
}

func (n *mongoFindNode) connect(ctx context.Context) (*mongo.Client, error) {
	if n.client != nil {
		return n.client, nil
	}
	creds, err := n.credentials.Resolve(ctx, n.credID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	connStr := creds["connectionString"]
	if connStr == "" {
		connStr = fmt.Sprintf("mongodb://%s:%s@%s:%s/%s",
			creds["user"], creds["password"], creds["host"], defaultString(creds["port"], "27017"), n.database)
	}
	clientOpts := options.Client().ApplyURI(connStr).SetConnectTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	n.client = client
	return client, nil
}

func (n *mongoFindNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	defer func() {
		if n.client != nil {
			n.client.Disconnect(context.Background())
		}
	}()

	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}
		item, _ := v.ToGo().(map[string]interface{})

		result, findErr := n.find(ctx, item)
		if findErr != nil {
			if err := outputs[1].Send(ctx, value.FromGo(map[string]interface{}{"error": findErr.Error()})); err != nil {
				return err
			}
			continue
		}
		if err := outputs[0].Send(ctx, value.FromGo(result)); err != nil {
			return err
		}
	}
}

func (n *mongoFindNode) find(ctx context.Context, item map[string]interface{}) (map[string]interface{}, error) {
	client, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}
	coll := client.Database(n.database).Collection(n.collection)

	filter := bson.M{}
	if f, ok := item["filter"].(map[string]interface{}); ok {
		for k, v := range f {
			filter[k] = v
		}
	}

	opts := options.Find()
	if n.limit > 0 {
		opts.SetLimit(n.limit)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	var results []map[string]interface{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}

	out := make([]interface{}, len(results))
	for i, r := range results {
		out[i] = r
	}
	return map[string]interface{}{"documents": out, "count": len(results)}, nil
}

func init() {
	noderuntime.Register("mongo_find", newMongoFindNode)
}
