package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// httpRequestNode issues one HTTP request per received item, grounded on
// the teacher's HTTPRequestNode. Output 0 carries the response envelope
// on success; output 1 carries the error detail so downstream nodes can
// route around a failed call without the whole job aborting.
type httpRequestNode struct {
	client         *http.Client
	method         string
	url            string
	headers        map[string]interface{}
	queryParams    map[string]interface{}
	body           interface{}
	bodyType       string
	authType       string
	credentialID   string
	responseType   string
	credentials    noderuntime.CredentialResolver
}

func newHTTPRequestNode() noderuntime.Node {
	return &httpRequestNode{client: &http.Client{Timeout: 30 * time.Second}}
}

func (n *httpRequestNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "http_request",
		Label:       "HTTP Request",
		Category:    "transform",
		Description: "Make an HTTP request to an external API for every item received",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "out", Role: "success"},
			{Name: "error", Role: "error"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "method", Label: "Method", Type: noderuntime.PropertySelect, Default: "GET", Options: []noderuntime.PropertyOption{
				{Label: "GET", Value: "GET"}, {Label: "POST", Value: "POST"}, {Label: "PUT", Value: "PUT"},
				{Label: "PATCH", Value: "PATCH"}, {Label: "DELETE", Value: "DELETE"},
			}},
			{Name: "url", Label: "URL", Type: noderuntime.PropertyText, Required: true},
			{Name: "authentication", Label: "Authentication", Type: noderuntime.PropertySelect, Default: "none", Options: []noderuntime.PropertyOption{
				{Label: "None", Value: "none"}, {Label: "Basic", Value: "basic"},
				{Label: "Bearer", Value: "bearer"}, {Label: "API Key", Value: "apiKey"},
			}},
			{Name: "credentialId", Label: "Credential", Type: noderuntime.PropertyText},
			{Name: "headers", Label: "Headers", Type: noderuntime.PropertyJSON},
			{Name: "queryParams", Label: "Query Params", Type: noderuntime.PropertyJSON},
			{Name: "body", Label: "Body", Type: noderuntime.PropertyJSON},
			{Name: "bodyType", Label: "Body Type", Type: noderuntime.PropertySelect, Default: "json", Options: []noderuntime.PropertyOption{
				{Label: "JSON", Value: "json"}, {Label: "Form URL Encoded", Value: "urlencoded"}, {Label: "Raw", Value: "raw"},
			}},
			{Name: "responseType", Label: "Response Type", Type: noderuntime.PropertySelect, Default: "auto"},
		},
	}
}

func (n *httpRequestNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	if _, ok := config["url"]; !ok {
		return fmt.Errorf("http_request: url is required")
	}
	n.method = stringConfig(config, "method", "GET")
	n.url = stringConfig(config, "url", "")
	n.headers, _ = config["headers"].(map[string]interface{})
	n.queryParams, _ = config["queryParams"].(map[string]interface{})
	n.body = config["body"]
	n.bodyType = stringConfig(config, "bodyType", "json")
	n.authType = stringConfig(config, "authentication", "none")
	n.credentialID = stringConfig(config, "credentialId", "")
	n.responseType = stringConfig(config, "responseType", "auto")
	n.credentials = creds
	if timeout := intConfig(config, "timeout", 0); timeout > 0 {
		n.client.Timeout = time.Duration(timeout) * time.Second
	}
	return nil
}

func (n *httpRequestNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}

		result, reqErr := n.doRequest(ctx)
		if reqErr != nil {
			errEnvelope := value.FromGo(map[string]interface{}{"error": reqErr.Error()})
			if err := outputs[1].Send(ctx, errEnvelope); err != nil {
				return err
			}
			continue
		}
		if err := outputs[0].Send(ctx, value.FromGo(result)); err != nil {
			return err
		}
		_ = v
	}
}

func (n *httpRequestNode) doRequest(ctx context.Context) (map[string]interface{}, error) {
	parsedURL, err := url.Parse(n.url)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(n.queryParams) > 0 {
		q := parsedURL.Query()
		for k, v := range n.queryParams {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		parsedURL.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	var contentType string
	if n.body != nil && (n.method == "POST" || n.method == "PUT" || n.method == "PATCH") {
		switch n.bodyType {
		case "json":
			b, err := json.Marshal(n.body)
			if err != nil {
				return nil, fmt.Errorf("marshal body: %w", err)
			}
			bodyReader = bytes.NewReader(b)
			contentType = "application/json"
		case "urlencoded":
			form := url.Values{}
			if m, ok := n.body.(map[string]interface{}); ok {
				for k, v := range m {
					form.Set(k, fmt.Sprintf("%v", v))
				}
			}
			bodyReader = strings.NewReader(form.Encode())
			contentType = "application/x-www-form-urlencoded"
		case "raw":
			bodyReader = strings.NewReader(fmt.Sprintf("%v", n.body))
			contentType = "text/plain"
		}
	}

	req, err := http.NewRequestWithContext(ctx, n.method, parsedURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range n.headers {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}
	if err := n.applyAuthentication(ctx, req); err != nil {
		return nil, fmt.Errorf("authentication: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	responseType := n.responseType
	contentTypeHeader := resp.Header.Get("Content-Type")
	if responseType == "" || responseType == "auto" {
		if strings.Contains(contentTypeHeader, "application/json") {
			responseType = "json"
		} else {
			responseType = "text"
		}
	}

	var responseData interface{}
	switch responseType {
	case "json":
		if err := json.Unmarshal(respBody, &responseData); err != nil {
			responseData = string(respBody)
		}
	default:
		responseData = string(respBody)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"statusCode": resp.StatusCode,
		"headers":    headers,
		"body":       responseData,
		"ok":         resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

func (n *httpRequestNode) applyAuthentication(ctx context.Context, req *http.Request) error {
	if n.authType == "none" || n.authType == "" {
		return nil
	}
	var creds map[string]string
	if n.credentials != nil && n.credentialID != "" {
		resolved, err := n.credentials.Resolve(ctx, n.credentialID)
		if err != nil {
			return err
		}
		creds = resolved
	}

	switch n.authType {
	case "basic":
		req.SetBasicAuth(creds["username"], creds["password"])
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+creds["token"])
	case "apiKey":
		name := creds["keyName"]
		if name == "" {
			name = "X-API-Key"
		}
		req.Header.Set(name, creds["key"])
	}
	return nil
}

func init() {
	noderuntime.Register("http_request", newHTTPRequestNode)
}
