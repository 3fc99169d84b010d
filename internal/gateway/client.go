package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/psouza/broadcastd/internal/config"
	"github.com/psouza/broadcastd/internal/models"
)

// SendResult is the outcome of one logical send through a profile.
type SendResult struct {
	OK         bool
	Status     int
	Response   string
	Connection string
	Error      string
	DryRun     bool
}

// Dispatcher sends one built payload through a tenant profile. The
// processor depends on this interface so tests can swap the gateway out.
type Dispatcher interface {
	Send(ctx context.Context, profile models.Profile, action string, body map[string]interface{}) SendResult
}

// Client dispatches through the profile's ordered connections with
// circuit-breaking and failover on critical errors. Payload-level
// rejections never fail over: a malformed body is malformed on every
// endpoint.
type Client struct {
	http   *http.Client
	health ConnectionHealth
	dryRun bool
	log    zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, health ConnectionHealth, log zerolog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		health: health,
		dryRun: cfg.DryRun,
		log:    log,
	}
}

func (c *Client) Send(ctx context.Context, profile models.Profile, action string, body map[string]interface{}) SendResult {
	conns := profile.ConnectionList()
	if len(conns) == 0 {
		return SendResult{Status: 0, Error: "no connection configured for profile"}
	}

	if c.dryRun {
		echo, _ := json.Marshal(map[string]interface{}{"action": action, "body": body})
		return SendResult{
			OK:         true,
			Status:     http.StatusOK,
			Response:   string(echo),
			Connection: conns[0].Key(),
			DryRun:     true,
		}
	}

	var last *SendResult
	for _, conn := range conns {
		key := conn.Key()
		if c.health.IsDown(key) {
			c.log.Debug().Str("connection", key).Msg("connection on cooldown, skipping")
			continue
		}

		res := c.sendVia(ctx, conn, action, body)
		res.Connection = key

		if res.OK {
			c.health.RecordSuccess(key)
			return res
		}

		critical := isCritical(res)
		c.health.RecordFailure(key, critical)
		if !critical {
			// Validation-style failures are returned as-is; another
			// connection cannot fix a bad payload.
			return res
		}

		c.log.Warn().
			Str("connection", key).
			Int("status", res.Status).
			Str("error", res.Error).
			Msg("critical gateway failure, failing over")
		last = &res
	}

	if last != nil {
		return *last
	}
	return SendResult{Status: 0, Error: "all connections down or unavailable"}
}

// sendVia tolerates gateway path and action-name variance: for ambiguous
// actions it walks known synonyms, and per action name several URL
// shapes. The first attempt that draws a usable HTTP response wins.
func (c *Client) sendVia(ctx context.Context, conn models.Connection, action string, body map[string]interface{}) SendResult {
	var last SendResult
	for _, name := range actionVariants(action) {
		for _, p := range pathVariants(name, conn.Instance) {
			res := c.post(ctx, conn, p, body)
			last = res
			if res.Status == 0 {
				continue // transport error, try the next shape
			}
			if res.Status == http.StatusNotFound || res.Status == http.StatusMethodNotAllowed {
				continue // wrong path or unknown action on this build
			}
			return res
		}
	}
	return last
}

func (c *Client) post(ctx context.Context, conn models.Connection, path string, body map[string]interface{}) SendResult {
	payload, err := json.Marshal(body)
	if err != nil {
		return SendResult{Error: fmt.Sprintf("marshal body: %v", err)}
	}

	url := conn.BaseURL() + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{Error: fmt.Sprintf("build request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	// The expected auth header depends on how the gateway instance was
	// configured, so all accepted conventions are attached at once.
	req.Header.Set("apikey", conn.Token)
	req.Header.Set("x-api-key", conn.Token)
	req.Header.Set("Authorization", "Bearer "+conn.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	res := SendResult{
		Status:   resp.StatusCode,
		Response: string(respBody),
		OK:       resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	if !res.OK {
		res.Error = fmt.Sprintf("gateway returned %d", resp.StatusCode)
	}
	return res
}

func actionVariants(action string) []string {
	switch action {
	case ActionSendList:
		return []string{"sendList", "sendOptions"}
	case ActionSendPoll:
		return []string{"sendPoll", "sendPollMessage"}
	default:
		return []string{action}
	}
}

func pathVariants(action, instance string) []string {
	return []string{
		"message/" + action + "/" + instance,
		"message/" + action,
		"api/message/" + action + "/" + instance,
		"api/message/" + action,
	}
}

var criticalMarkers = []string{
	"banned", "ban detected", "unauthorized", "auth", "offline",
	"unavailable", "logged out", "not connected",
}

// isCritical classifies a failure as connection-level (drives the breaker
// and failover) versus payload-level. Transport errors without a response
// count as transient, not critical.
func isCritical(res SendResult) bool {
	switch res.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusGone, http.StatusLocked:
		return true
	}
	if res.Status == 0 {
		return false
	}
	text := strings.ToLower(res.Response)
	for _, marker := range criticalMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
