package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Aria2 talks to an aria2c daemon over its JSON-RPC endpoint.
type Aria2 struct {
	rpcURL string
	secret string
	client *http.Client
}

func NewAria2(rpcURL, secret string) *Aria2 {
	return &Aria2{
		rpcURL: rpcURL,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type aria2Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type aria2Response struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Aria2) call(ctx context.Context, method string, params []any, out any) error {
	if a.secret != "" {
		params = append([]any{"token:" + a.secret}, params...)
	}
	payload, err := json.Marshal(aria2Request{
		JSONRPC: "2.0",
		ID:      "mediabot",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("aria2 rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp aria2Response
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode aria2 response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("aria2 error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode aria2 result: %w", err)
		}
	}
	return nil
}

// Add submits the URL via aria2.addUri and returns the gid.
func (a *Aria2) Add(ctx context.Context, url, outputDir, tag string) (string, error) {
	var gid string
	opts := map[string]string{"dir": outputDir}
	err := a.call(ctx, "aria2.addUri", []any{[]string{url}, opts}, &gid)
	if err != nil {
		return "", fmt.Errorf("failed to add download: %w", err)
	}
	return gid, nil
}

type aria2Status struct {
	Status        string `json:"status"`
	TotalLength   string `json:"totalLength"`
	CompletedLen  string `json:"completedLength"`
	DownloadSpeed string `json:"downloadSpeed"`
	ErrorMessage  string `json:"errorMessage"`
	Files         []struct {
		Path string `json:"path"`
	} `json:"files"`
}

func (a *Aria2) Status(ctx context.Context, gid string) (TransferStatus, error) {
	var st aria2Status
	if err := a.call(ctx, "aria2.tellStatus", []any{gid}, &st); err != nil {
		return TransferStatus{}, err
	}

	total, _ := strconv.ParseInt(st.TotalLength, 10, 64)
	completed, _ := strconv.ParseInt(st.CompletedLen, 10, 64)
	speed, _ := strconv.ParseInt(st.DownloadSpeed, 10, 64)

	status := TransferStatus{
		TotalBytes: total,
		SpeedBps:   speed,
		Error:      st.ErrorMessage,
	}
	if total > 0 {
		status.Progress = float64(completed) / float64(total) * 100
	}
	if speed > 0 && total > completed {
		status.ETASeconds = (total - completed) / speed
	}

	switch st.Status {
	case "complete":
		status.State = StateCompleted
		status.Progress = 100
	case "error", "removed":
		status.State = StateFailed
	case "paused":
		status.State = StatePaused
	case "waiting":
		status.State = StateQueued
	default:
		status.State = StateDownloading
	}
	return status, nil
}

// Files returns the output paths registered under the gid.
func (a *Aria2) Files(ctx context.Context, gid string) ([]string, error) {
	var st aria2Status
	if err := a.call(ctx, "aria2.tellStatus", []any{gid}, &st); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(st.Files))
	for _, f := range st.Files {
		if f.Path != "" {
			paths = append(paths, f.Path)
		}
	}
	return paths, nil
}

func (a *Aria2) Remove(ctx context.Context, gid string) error {
	var removed string
	if err := a.call(ctx, "aria2.remove", []any{gid}, &removed); err != nil {
		return fmt.Errorf("failed to remove download %s: %w", gid, err)
	}
	return nil
}

func (a *Aria2) Health(ctx context.Context) error {
	var version struct {
		Version string `json:"version"`
	}
	return a.call(ctx, "aria2.getVersion", nil, &version)
}
