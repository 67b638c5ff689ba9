// Package lifecycle triggers snapshot create+prune on the remote
// storage appliance through the TrueNAS middleware websocket API.
package lifecycle

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tis24dev/snapsync/internal/logging"
)

// ErrRemoteLifecycleFailed indicates the remote snapshot cycle did not
// complete. Callers treat it as a warning, never fatal.
var ErrRemoteLifecycleFailed = errors.New("remote snapshot lifecycle failed")

// Params describes one remote create+prune cycle.
type Params struct {
	// Dataset is the ZFS dataset to snapshot.
	Dataset string

	// Prefix selects which remote snapshots are subject to pruning.
	Prefix string

	// Keep is the number of matching snapshots to retain; 0 disables
	// pruning.
	Keep int

	// SnapshotName is the label for the new remote snapshot.
	SnapshotName string
}

// Controller runs the remote snapshot lifecycle cycle.
type Controller interface {
	RunCycle(ctx context.Context, p Params) error
}

// Client is a JSON-RPC 2.0 websocket client for the TrueNAS middleware.
type Client struct {
	logger *logging.Logger
	url    string
	apiKey string
	dialer *websocket.Dialer
	nextID int
}

// NewClient creates a client for wss://host/api/current. Storage
// appliances routinely run self-signed certificates, so certificate
// verification is disabled, matching the upstream tooling.
func NewClient(logger *logging.Logger, host, apiKey string) *Client {
	return &Client{
		logger: logger,
		url:    fmt.Sprintf("wss://%s/api/current", host),
		apiKey: apiKey,
		dialer: &websocket.Dialer{
			TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
			HandshakeTimeout: 30 * time.Second,
		},
		nextID: 1,
	}
}

// NewClientURL creates a client for an explicit websocket URL (used by
// tests with ws:// endpoints).
func NewClientURL(logger *logging.Logger, url, apiKey string) *Client {
	return &Client{
		logger: logger,
		url:    url,
		apiKey: apiKey,
		dialer: websocket.DefaultDialer,
		nextID: 1,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Msg     string        `json:"msg"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     int             `json:"id"`
	Error  json.RawMessage `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type snapshotEntry struct {
	ID         json.RawMessage `json:"id"`
	Name       string          `json:"name"`
	Properties struct {
		Creation struct {
			Rawvalue string `json:"rawvalue"`
		} `json:"creation"`
	} `json:"properties"`
}

// RunCycle logs in, creates a recursive snapshot of the dataset, and
// prunes matching snapshots beyond the retention count. Every failure
// is wrapped in ErrRemoteLifecycleFailed.
func (c *Client) RunCycle(ctx context.Context, p Params) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: connect %s: %v", ErrRemoteLifecycleFailed, c.url, err)
	}
	defer conn.Close()

	if _, err := c.call(conn, "auth.login_with_api_key", []interface{}{c.apiKey}); err != nil {
		return fmt.Errorf("%w: login: %v", ErrRemoteLifecycleFailed, err)
	}

	c.logger.Info("Remote lifecycle: creating snapshot %s@%s", p.Dataset, p.SnapshotName)
	createParams := []interface{}{map[string]interface{}{
		"dataset":   p.Dataset,
		"name":      p.SnapshotName,
		"recursive": true,
	}}
	if _, err := c.call(conn, "pool.snapshot.create", createParams); err != nil {
		return fmt.Errorf("%w: create snapshot: %v", ErrRemoteLifecycleFailed, err)
	}

	if p.Keep <= 0 {
		c.logger.Debug("Remote lifecycle: pruning disabled")
		return nil
	}

	if err := c.prune(conn, p); err != nil {
		return fmt.Errorf("%w: prune: %v", ErrRemoteLifecycleFailed, err)
	}
	return nil
}

// prune keeps the newest Keep snapshots whose short name matches the
// prefix, ordered by the creation property reported by the middleware.
func (c *Client) prune(conn *websocket.Conn, p Params) error {
	queryParams := []interface{}{
		[]interface{}{[]interface{}{"dataset", "=", p.Dataset}},
		map[string]interface{}{"order_by": []string{"name"}},
	}
	result, err := c.call(conn, "pool.snapshot.query", queryParams)
	if err != nil {
		return fmt.Errorf("query snapshots: %w", err)
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(result, &entries); err != nil {
		return fmt.Errorf("decode snapshot list: %w", err)
	}

	type candidate struct {
		created   int64
		shortName string
		id        json.RawMessage
	}
	var candidates []candidate
	for _, entry := range entries {
		idx := strings.Index(entry.Name, "@")
		if idx < 0 {
			continue
		}
		shortName := entry.Name[idx+1:]
		if !strings.HasPrefix(shortName, p.Prefix) {
			continue
		}
		created, err := strconv.ParseInt(entry.Properties.Creation.Rawvalue, 10, 64)
		if err != nil {
			c.logger.Warning("WARNING: Remote lifecycle: unparseable creation time for %s: %v", entry.Name, err)
			continue
		}
		candidates = append(candidates, candidate{
			created:   created,
			shortName: shortName,
			id:        entry.ID,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].created == candidates[j].created {
			return candidates[i].shortName > candidates[j].shortName
		}
		return candidates[i].created > candidates[j].created
	})

	if len(candidates) <= p.Keep {
		c.logger.Info("Remote lifecycle: %d snapshot(s) match prefix %q, within retention of %d",
			len(candidates), p.Prefix, p.Keep)
		return nil
	}

	toDelete := candidates[p.Keep:]
	c.logger.Info("Remote lifecycle: pruning %d snapshot(s), keeping %d newest", len(toDelete), p.Keep)
	for _, cand := range toDelete {
		c.logger.Debug("Remote lifecycle: deleting %s", cand.shortName)
		if _, err := c.call(conn, "pool.snapshot.delete", []interface{}{cand.id}); err != nil {
			return fmt.Errorf("delete %s: %w", cand.shortName, err)
		}
	}
	return nil
}

func (c *Client) call(conn *websocket.Conn, method string, params []interface{}) (json.RawMessage, error) {
	id := c.nextID
	c.nextID++

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Msg:     "method",
		Method:  method,
		Params:  params,
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("%s: send: %w", method, err)
	}

	var resp rpcResponse
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("%s: receive: %w", method, err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, fmt.Errorf("%s: %s", method, string(resp.Error))
	}
	return resp.Result, nil
}
