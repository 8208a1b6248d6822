package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// redisCacheNode performs one get/set/delete against Redis per received
// item, grounded on internal/platform/cache/redis.go's RedisCache. The
// get operation forwards every item with a hit flag and does not filter
// anything itself; a dedup gate is built by routing on that flag.
type redisCacheNode struct {
	client      *redis.Client
	operation   string
	keyPrefix   string
	ttl         time.Duration
	credentials noderuntime.CredentialResolver
	credID      string
}

func newRedisCacheNode() noderuntime.Node {
	return &redisCacheNode{}
}

func (n *redisCacheNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "redis_cache",
		Label:       "Redis Cache",
		Category:    "integration",
		Description: "Get, set, or delete a Redis key for every item received",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "out", Role: "success"},
			{Name: "error", Role: "error"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "operation", Label: "Operation", Type: noderuntime.PropertySelect, Required: true, Options: []noderuntime.PropertyOption{
				{Label: "Get", Value: "get"}, {Label: "Set", Value: "set"}, {Label: "Delete", Value: "delete"},
			}},
			{Name: "keyPrefix", Label: "Key Prefix", Type: noderuntime.PropertyText},
			{Name: "ttlSeconds", Label: "TTL Seconds", Type: noderuntime.PropertyNumber, Default: 300},
			{Name: "credentialId", Label: "Credential", Type: noderuntime.PropertyText, Required: true},
		},
	}
}

func (n *redisCacheNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.operation = stringConfig(config, "operation", "")
	if n.operation == "" {
		return fmt.Errorf("redis_cache: operation is required")
	}
	n.keyPrefix = stringConfig(config, "keyPrefix", "")
	n.ttl = time.Duration(intConfig(config, "ttlSeconds", 300)) * time.Second
	n.credID = stringConfig(config, "credentialId", "")
	n.credentials = creds
	return nil
}

func (n *redisCacheNode) connect(ctx context.Context) (*redis.Client, error) {
	if n.client != nil {
		return n.client, nil
	}
	creds, err := n.credentials.Resolve(ctx, n.credID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	n.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", creds["host"], defaultString(creds["port"], "6379")),
		Password:     creds["password"],
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := n.client.Ping(ctx).Err(); err != nil {
		n.client = nil
		return nil, fmt.Errorf("connect: %w", err)
	}
	return n.client, nil
}

func (n *redisCacheNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	defer func() {
		if n.client != nil {
			n.client.Close()
		}
	}()

	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}
		item, _ := v.ToGo().(map[string]interface{})

		result, opErr := n.perform(ctx, item)
		if opErr != nil {
			if err := outputs[1].Send(ctx, value.FromGo(map[string]interface{}{"error": opErr.Error()})); err != nil {
				return err
			}
			continue
		}
		if err := outputs[0].Send(ctx, value.FromGo(result)); err != nil {
			return err
		}
	}
}

func (n *redisCacheNode) perform(ctx context.Context, item map[string]interface{}) (map[string]interface{}, error) {
	client, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}
	key, _ := item["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("item missing key")
	}
	fullKey := n.keyPrefix + key

	switch n.operation {
	case "get":
		val, err := client.Get(ctx, fullKey).Result()
		if err == redis.Nil {
			return map[string]interface{}{"key": key, "hit": false}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get: %w", err)
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(val), &parsed); err != nil {
			parsed = val
		}
		return map[string]interface{}{"key": key, "hit": true, "value": parsed}, nil

	case "set":
		encoded, err := json.Marshal(item["value"])
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		if err := client.Set(ctx, fullKey, encoded, n.ttl).Err(); err != nil {
			return nil, fmt.Errorf("set: %w", err)
		}
		return map[string]interface{}{"key": key, "stored": true}, nil

	case "delete":
		deleted, err := client.Del(ctx, fullKey).Result()
		if err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		return map[string]interface{}{"key": key, "deleted": deleted > 0}, nil

	default:
		return nil, fmt.Errorf("unknown operation: %s", n.operation)
	}
}

func init() {
	noderuntime.Register("redis_cache", newRedisCacheNode)
}
