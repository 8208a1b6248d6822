package nodes

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// s3ObjectNode reads or writes one S3 object per received item,
// grounded on internal/node/runtime/nodes/s3_node.go's upload/download
// operations, usable as an alternate file source/sink (spec.md §10.1).
type s3ObjectNode struct {
	client      *s3.Client
	operation   string
	bucket      string
	credentials noderuntime.CredentialResolver
	credID      string
}

func newS3ObjectNode() noderuntime.Node {
	return &s3ObjectNode{}
}

func (n *s3ObjectNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "s3_object",
		Label:       "S3 Object",
		Category:    "integration",
		Description: "Upload or download an object in AWS S3 for every item received",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "out", Role: "success"},
			{Name: "error", Role: "error"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "operation", Label: "Operation", Type: noderuntime.PropertySelect, Required: true, Options: []noderuntime.PropertyOption{
				{Label: "Upload", Value: "upload"}, {Label: "Download", Value: "download"}, {Label: "Delete", Value: "delete"},
			}},
			{Name: "bucket", Label: "Bucket", Type: noderuntime.PropertyText, Required: true},
			{Name: "credentialId", Label: "Credential", Type: noderuntime.PropertyText, Required: true},
		},
	}
}

func (n *s3ObjectNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.operation = stringConfig(config, "operation", "")
	n.bucket = stringConfig(config, "bucket", "")
	if n.operation == "" || n.bucket == "" {
		return fmt.Errorf("s3_object: operation and bucket are required")
	}
	n.credID = stringConfig(config, "credentialId", "")
	n.credentials = creds
	return nil
}

func (n *s3ObjectNode) connect(ctx context.Context) (*s3.Client, error) {
	if n.client != nil {
		return n.client, nil
	}
	creds, err := n.credentials.Resolve(ctx, n.credID)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	region := defaultString(creds["region"], "us-east-1")
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(creds["accessKeyId"], creds["secretAccessKey"], "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var opts []func(*s3.Options)
	if endpoint := creds["endpoint"]; endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	n.client = s3.NewFromConfig(cfg, opts...)
	return n.client, nil
}

func (n *s3ObjectNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
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

func (n *s3ObjectNode) perform(ctx context.Context, item map[string]interface{}) (map[string]interface{}, error) {
	client, err := n.connect(ctx)
	if err != nil {
		return nil, err
	}
	key, _ := item["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("item missing key")
	}

	switch n.operation {
	case "upload":
		content, _ := item["content"].(string)
		contentType, _ := item["contentType"].(string)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(n.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader([]byte(content)),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		return map[string]interface{}{"bucket": n.bucket, "key": key, "uploaded": true}, nil

	case "download":
		out, err := client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(n.bucket), Key: aws.String(key)})
		if err != nil {
			return nil, fmt.Errorf("download: %w", err)
		}
		defer out.Body.Close()
		body, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("read object body: %w", err)
		}
		return map[string]interface{}{"bucket": n.bucket, "key": key, "content": string(body)}, nil

	case "delete":
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(n.bucket), Key: aws.String(key)})
		if err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		return map[string]interface{}{"bucket": n.bucket, "key": key, "deleted": true}, nil

	default:
		return nil, fmt.Errorf("unknown operation: %s", n.operation)
	}
}

func init() {
	noderuntime.Register("s3_object", newS3ObjectNode)
}
