package nodes

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// manualTriggerNode emits a single configured payload and then closes,
// grounded on the teacher's ManualTriggerNode. A manual trigger starts
// exactly one job run; it has no notion of firing repeatedly.
type manualTriggerNode struct {
	testData map[string]interface{}
}

func newManualTriggerNode() noderuntime.Node {
	return &manualTriggerNode{}
}

func (n *manualTriggerNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "manual_trigger",
		Label:       "Manual Trigger",
		Category:    "trigger",
		Description: "Manually trigger the workflow with a fixed payload",
		IsTrigger:   true,
		Outputs:     []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "testData", Label: "Payload", Type: noderuntime.PropertyJSON},
		},
	}
}

func (n *manualTriggerNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.testData, _ = config["testData"].(map[string]interface{})
	if n.testData == nil {
		n.testData = map[string]interface{}{}
	}
	return nil
}

func (n *manualTriggerNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	payload := copyMap(n.testData)
	payload["timestamp"] = time.Now().Format(time.RFC3339)
	payload["triggerType"] = "manual"
	return outputs[0].Send(ctx, value.FromGo(payload))
}

func init() {
	noderuntime.Register("manual_trigger", newManualTriggerNode)
}

// intervalTriggerNode emits one item on a fixed period until the job is
// cancelled, grounded on the teacher's IntervalTriggerNode.
type intervalTriggerNode struct {
	period time.Duration
}

func newIntervalTriggerNode() noderuntime.Node {
	return &intervalTriggerNode{period: time.Minute}
}

func (n *intervalTriggerNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "interval_trigger",
		Label:       "Interval",
		Category:    "trigger",
		Description: "Trigger at regular intervals for the life of the job",
		IsTrigger:   true,
		Outputs:     []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "interval", Label: "Interval", Type: noderuntime.PropertyNumber, Default: 60, Required: true},
			{Name: "unit", Label: "Unit", Type: noderuntime.PropertySelect, Default: "seconds", Options: []noderuntime.PropertyOption{
				{Label: "Seconds", Value: "seconds"},
				{Label: "Minutes", Value: "minutes"},
				{Label: "Hours", Value: "hours"},
			}},
		},
	}
}

func (n *intervalTriggerNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	amount := intConfig(config, "interval", 60)
	switch stringConfig(config, "unit", "seconds") {
	case "minutes":
		n.period = time.Duration(amount) * time.Minute
	case "hours":
		n.period = time.Duration(amount) * time.Hour
	default:
		n.period = time.Duration(amount) * time.Second
	}
	if n.period <= 0 {
		return fmt.Errorf("interval_trigger: interval must be positive")
	}
	return nil
}

func (n *intervalTriggerNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	ticker := time.NewTicker(n.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			payload := map[string]interface{}{
				"timestamp":   t.Format(time.RFC3339),
				"triggerType": "interval",
			}
			if err := outputs[0].Send(ctx, value.FromGo(payload)); err != nil {
				return err
			}
		}
	}
}

func init() {
	noderuntime.Register("interval_trigger", newIntervalTriggerNode)
}

// scheduleTriggerNode fires on a cron schedule (or a plain interval
// expressed as a cron "@every" spec) using its own private cron.Cron,
// grounded on the teacher's ScheduleTriggerNode. Each node instance owns
// one schedule entry for the life of its job.
type scheduleTriggerNode struct {
	mode           string
	cronExpression string
	interval       int
}

func newScheduleTriggerNode() noderuntime.Node {
	return &scheduleTriggerNode{mode: "interval", interval: 60}
}

func (n *scheduleTriggerNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "schedule_trigger",
		Label:       "Schedule Trigger",
		Category:    "trigger",
		Description: "Trigger workflow on a cron schedule or fixed interval",
		IsTrigger:   true,
		Outputs:     []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "mode", Label: "Mode", Type: noderuntime.PropertySelect, Default: "interval", Options: []noderuntime.PropertyOption{
				{Label: "Interval", Value: "interval"},
				{Label: "Cron Expression", Value: "cron"},
			}},
			{Name: "interval", Label: "Interval (seconds)", Type: noderuntime.PropertyNumber, Default: 60},
			{Name: "cronExpression", Label: "Cron Expression", Type: noderuntime.PropertyText},
		},
	}
}

func (n *scheduleTriggerNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.mode = stringConfig(config, "mode", "interval")
	n.cronExpression = stringConfig(config, "cronExpression", "")
	n.interval = intConfig(config, "interval", 60)

	if n.mode == "cron" {
		if n.cronExpression == "" {
			return fmt.Errorf("schedule_trigger: cronExpression is required in cron mode")
		}
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(n.cronExpression); err != nil {
			return fmt.Errorf("schedule_trigger: invalid cron expression: %w", err)
		}
	} else if n.interval < 1 {
		return fmt.Errorf("schedule_trigger: interval must be at least 1 second")
	}
	return nil
}

func (n *scheduleTriggerNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	schedule := n.cronExpression
	if n.mode != "cron" {
		schedule = fmt.Sprintf("@every %ds", n.interval)
	}

	sched := cron.New(cron.WithSeconds())
	fired := make(chan time.Time, 1)
	_, err := sched.AddFunc(schedule, func() {
		select {
		case fired <- time.Now():
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("schedule_trigger: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-fired:
			payload := map[string]interface{}{
				"timestamp":   t.Format(time.RFC3339),
				"triggerType": "schedule",
				"mode":        n.mode,
			}
			if err := outputs[0].Send(ctx, value.FromGo(payload)); err != nil {
				return err
			}
		}
	}
}

func init() {
	noderuntime.Register("schedule_trigger", newScheduleTriggerNode)
}

// webhookTriggerNode fires once per HTTP request delivered to its
// registered path, grounded on the teacher's WebhookTriggerNode. The
// teacher ran one global node instance keyed by path across every
// workflow; here each job's node instance registers its own path with a
// package-level registry for the life of the job and deregisters on
// return, since nodes are created fresh per job (spec.md §3).
type webhookTriggerNode struct {
	method string
	path   string
	secret string
	inbox  chan map[string]interface{}
}

func newWebhookTriggerNode() noderuntime.Node {
	return &webhookTriggerNode{method: "POST", inbox: make(chan map[string]interface{}, 16)}
}

func (n *webhookTriggerNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "webhook_trigger",
		Label:       "Webhook",
		Category:    "trigger",
		Description: "Trigger workflow when an HTTP request reaches its registered path",
		IsTrigger:   true,
		Outputs:     []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "httpMethod", Label: "Method", Type: noderuntime.PropertySelect, Default: "POST", Options: []noderuntime.PropertyOption{
				{Label: "GET", Value: "GET"}, {Label: "POST", Value: "POST"}, {Label: "PUT", Value: "PUT"},
				{Label: "PATCH", Value: "PATCH"}, {Label: "DELETE", Value: "DELETE"}, {Label: "ANY", Value: "ANY"},
			}},
			{Name: "path", Label: "Path", Type: noderuntime.PropertyText},
			{Name: "secret", Label: "HMAC Secret", Type: noderuntime.PropertyText},
		},
	}
}

func (n *webhookTriggerNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.method = stringConfig(config, "httpMethod", "POST")
	n.path = stringConfig(config, "path", "")
	if n.path == "" {
		n.path = uuid.New().String()
	}
	if !strings.HasPrefix(n.path, "/") {
		n.path = "/" + n.path
	}
	n.secret = stringConfig(config, "secret", "")
	return nil
}

func (n *webhookTriggerNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	webhooks.register(n.path, webhookConfig{method: n.method, secret: n.secret, inbox: n.inbox})
	defer webhooks.unregister(n.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-n.inbox:
			if err := outputs[0].Send(ctx, value.FromGo(payload)); err != nil {
				return err
			}
		}
	}
}

func init() {
	noderuntime.Register("webhook_trigger", newWebhookTriggerNode)
}

type webhookConfig struct {
	method string
	secret string
	inbox  chan map[string]interface{}
}

// webhookRegistry routes inbound HTTP requests from cmd/rustflowd to the
// running webhookTriggerNode instance registered for their path.
type webhookRegistry struct {
	mu    sync.RWMutex
	paths map[string]webhookConfig
}

var webhooks = &webhookRegistry{paths: make(map[string]webhookConfig)}

func (r *webhookRegistry) register(path string, cfg webhookConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path] = cfg
}

func (r *webhookRegistry) unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

// HandleWebhook delivers one inbound HTTP request to the webhook trigger
// registered for r.URL.Path, for use by cmd/rustflowd's HTTP handler.
func HandleWebhook(w http.ResponseWriter, r *http.Request) {
	webhooks.mu.RLock()
	cfg, exists := webhooks.paths[r.URL.Path]
	webhooks.mu.RUnlock()
	if !exists {
		http.Error(w, "webhook not found", http.StatusNotFound)
		return
	}
	if cfg.method != "ANY" && r.Method != cfg.method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if cfg.secret != "" {
		signature := r.Header.Get("X-Webhook-Signature")
		if signature == "" {
			signature = r.Header.Get("X-Hub-Signature-256")
		}
		if !verifyWebhookSignature(body, signature, cfg.secret) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	payload := map[string]interface{}{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   parseWebhookQuery(r.URL.Query()),
		"headers": parseWebhookHeaders(r.Header),
	}
	if len(body) > 0 {
		var jsonBody interface{}
		if strings.Contains(r.Header.Get("Content-Type"), "application/json") && json.Unmarshal(body, &jsonBody) == nil {
			payload["body"] = jsonBody
		} else {
			payload["body"] = string(body)
		}
	}

	select {
	case cfg.inbox <- payload:
	default:
		http.Error(w, "webhook backlog full", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"accepted": true, "timestamp": time.Now().Format(time.RFC3339)})
}

func parseWebhookQuery(query map[string][]string) map[string]interface{} {
	result := make(map[string]interface{}, len(query))
	for k, v := range query {
		if len(v) == 1 {
			result[k] = v[0]
		} else {
			result[k] = v
		}
	}
	return result
}

func parseWebhookHeaders(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for k := range headers {
		result[k] = headers.Get(k)
	}
	return result
}

func verifyWebhookSignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
