package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// agentNode calls an OpenAI-compatible chat-completions endpoint per
// received item (spec.md §10.1). It deliberately uses net/http rather
// than a vendor agent SDK: this node's surface is "POST a JSON body,
// read a JSON body", not the streaming/tool-calling/multi-turn state a
// provider SDK exists for, and it is built the same way the teacher's
// own http_request node is.
type agentNode struct {
	client       *http.Client
	endpoint     string
	model        string
	promptField  string
	credentials  noderuntime.CredentialResolver
	credentialID string
}

func newAgentNode() noderuntime.Node {
	return &agentNode{client: &http.Client{Timeout: 60 * time.Second}}
}

func (n *agentNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "agent",
		Label:       "Agent",
		Category:    "transform",
		Description: "Send the item's prompt field to a chat-completions endpoint and return the reply",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "out", Role: "success"},
			{Name: "error", Role: "error"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "endpoint", Label: "Endpoint", Type: noderuntime.PropertyText, Required: true},
			{Name: "model", Label: "Model", Type: noderuntime.PropertyText, Required: true},
			{Name: "promptField", Label: "Prompt Field", Type: noderuntime.PropertyText, Default: "prompt"},
			{Name: "credentialId", Label: "Credential", Type: noderuntime.PropertyText, Required: true},
		},
	}
}

func (n *agentNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.endpoint = stringConfig(config, "endpoint", "")
	n.model = stringConfig(config, "model", "")
	if n.endpoint == "" || n.model == "" {
		return fmt.Errorf("agent: endpoint and model are required")
	}
	n.promptField = stringConfig(config, "promptField", "prompt")
	n.credentialID = stringConfig(config, "credentialId", "")
	n.credentials = creds
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (n *agentNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}
		item, _ := v.ToGo().(map[string]interface{})

		reply, callErr := n.complete(ctx, item)
		if callErr != nil {
			if err := outputs[1].Send(ctx, value.FromGo(map[string]interface{}{"error": callErr.Error()})); err != nil {
				return err
			}
			continue
		}
		if err := outputs[0].Send(ctx, value.FromGo(map[string]interface{}{"reply": reply})); err != nil {
			return err
		}
	}
}

func (n *agentNode) complete(ctx context.Context, item map[string]interface{}) (string, error) {
	prompt := fmt.Sprintf("%v", item[n.promptField])

	body, err := json.Marshal(chatRequest{
		Model:    n.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if n.credentials != nil && n.credentialID != "" {
		creds, err := n.credentials.Resolve(ctx, n.credentialID)
		if err != nil {
			return "", fmt.Errorf("resolve credential: %w", err)
		}
		if token := creds["apiKey"]; token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("agent endpoint returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("agent endpoint returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func init() {
	noderuntime.Register("agent", newAgentNode)
}
