package zapier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// TransportRejection is the connector refusing an instruction at the
// protocol level. It marks a phrasing the connector cannot parse, so the
// caller logs the exact instruction and never retries it.
type TransportRejection struct {
	Code        int // HTTP status or JSON-RPC error code
	Instruction string
	Detail      string
}

func (t *TransportRejection) Error() string {
	return fmt.Sprintf("connector rejected instruction (code %d): %s", t.Code, t.Detail)
}

// FollowUpSignal is the connector asking for more input instead of returning
// records. It surfaces to the user as a clarification, not an error.
type FollowUpSignal struct {
	Question string
}

func (f *FollowUpSignal) Error() string {
	return "connector needs more input: " + f.Question
}

// Tool is one entry from the connector's tool catalog.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Client speaks JSON-RPC 2.0 to the automation connector over HTTP, with
// responses framed either as SSE streams or plain JSON.
type Client struct {
	url    string
	token  string
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	tools []Tool
}

func NewClient(url, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// SetTestTransport points the client at a test server instead of the real
// connector.
func (c *Client) SetTestTransport(url string) {
	c.url = url
}

type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      int        `json:"id"`
	Method  string     `json:"method"`
	Params  *rpcParams `json:"params,omitempty"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolsResult struct {
	Tools []Tool `json:"tools"`
}

type callResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ListTools fetches the connector's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.call(ctx, 1, "tools/list", nil, "")
	if err != nil {
		return nil, err
	}

	var list toolsResult
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, fmt.Errorf("unmarshal tool catalog: %w", err)
	}
	if len(list.Tools) == 0 {
		return nil, fmt.Errorf("connector reported no tools")
	}
	return list.Tools, nil
}

// Invoke hands one rendered instruction to the connector and returns the raw
// record payload plus the name of the tool that produced it. A 4xx reply or
// a JSON-RPC error comes back as a *TransportRejection; a followUpQuestion
// in the result comes back as a *FollowUpSignal.
func (c *Client) Invoke(ctx context.Context, instruction string) ([]byte, string, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, "", &TransportRejection{Code: http.StatusBadRequest, Instruction: instruction, Detail: "empty instruction"}
	}

	tools, err := c.cachedTools(ctx)
	if err != nil {
		return nil, "", err
	}
	tool, ok := selectTool(instruction, tools)
	if !ok {
		return nil, "", fmt.Errorf("no connector tool available")
	}

	params := &rpcParams{
		Name:      tool.Name,
		Arguments: map[string]any{"instructions": instruction},
	}
	result, err := c.call(ctx, 2, "tools/call", params, instruction)
	if err != nil {
		return nil, tool.Name, err
	}

	payload, err := extractPayload(result, instruction)
	if err != nil {
		return nil, tool.Name, err
	}

	c.logger.Debug("connector call completed", "tool", tool.Name, "bytes", len(payload))
	return payload, tool.Name, nil
}

// cachedTools lists the catalog once and reuses it for the life of the
// process.
func (c *Client) cachedTools(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tools) > 0 {
		return c.tools, nil
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	c.tools = tools
	return tools, nil
}

func (c *Client) call(ctx context.Context, id int, method string, params *rpcParams, instruction string) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connector call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		c.logger.Error("connector rejected request",
			"status", resp.StatusCode,
			"method", method,
			"instruction", instruction,
		)
		return nil, &TransportRejection{Code: resp.StatusCode, Instruction: instruction, Detail: clip(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connector error %d: %s", resp.StatusCode, clip(respBody))
	}

	for _, msg := range decodeMessages(respBody) {
		if msg.Error != nil {
			c.logger.Error("connector returned rpc error",
				"code", msg.Error.Code,
				"message", msg.Error.Message,
				"instruction", instruction,
			)
			return nil, &TransportRejection{Code: msg.Error.Code, Instruction: instruction, Detail: msg.Error.Message}
		}
		if msg.Result != nil {
			return msg.Result, nil
		}
	}
	return nil, fmt.Errorf("connector response carried no result")
}

// extractPayload pulls the record payload out of a tools/call result. The
// usual form is a content list whose first text block holds JSON; a
// followUpQuestion inside that text means the connector needs more input.
func extractPayload(result json.RawMessage, instruction string) ([]byte, error) {
	var call callResult
	if err := json.Unmarshal(result, &call); err == nil && len(call.Content) > 0 {
		for _, block := range call.Content {
			if block.Type != "" && block.Type != "text" {
				continue
			}
			text := strings.TrimSpace(block.Text)
			if text == "" {
				continue
			}
			if call.IsError {
				return nil, &TransportRejection{Code: http.StatusUnprocessableEntity, Instruction: instruction, Detail: text}
			}
			var follow struct {
				FollowUpQuestion string `json:"followUpQuestion"`
			}
			if err := json.Unmarshal([]byte(text), &follow); err == nil && follow.FollowUpQuestion != "" {
				return nil, &FollowUpSignal{Question: follow.FollowUpQuestion}
			}
			return []byte(text), nil
		}
	}
	return result, nil
}

// decodeMessages returns the JSON-RPC responses in a reply body, framed
// either as an SSE stream or as a single JSON object.
func decodeMessages(body []byte) []rpcResponse {
	var out []rpcResponse
	for _, data := range sseData(body) {
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err == nil {
			out = append(out, resp)
		}
	}
	if len(out) == 0 {
		var resp rpcResponse
		if err := json.Unmarshal(bytes.TrimSpace(body), &resp); err == nil {
			out = append(out, resp)
		}
	}
	return out
}

// sseData collects the data payloads from event-stream lines.
func sseData(body []byte) [][]byte {
	var out [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data != "" {
			out = append(out, []byte(data))
		}
	}
	return out
}

func clip(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
