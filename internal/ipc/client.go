package ipc

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"

	"distill/internal/fault"
	"distill/internal/task"
)

// defaultCallTimeout bounds a store round trip when the caller does not
// configure one.
const defaultCallTimeout = 10 * time.Second

// Client provides local-call-shaped access to the store service. Every call
// dials its own connection, so calls are independent: one timed-out request
// never poisons the next, and the client needs no reconnect state.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient configures a store client for the given endpoint.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

// Addr returns the configured store endpoint.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) call(method string, req, resp any) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fault.Wrapf(fault.ErrStoreUnavailable, "dial %s: %v", c.addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	defer rpcClient.Close()

	err = rpcClient.Call("Store."+method, req, resp)
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		message := string(serverErr)
		if strings.Contains(message, "can't find method") || strings.Contains(message, "can't find service") {
			return fault.Wrap(fault.ErrUnknownAction, message)
		}
		return fault.Decode(message)
	}
	return fault.Wrapf(fault.ErrStoreUnavailable, "call %s: %v", method, err)
}

// Ping checks that the store service answers requests.
func (c *Client) Ping() (*PingResponse, error) {
	var resp PingResponse
	if err := c.call("Ping", PingRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BeginStage1 creates or resets the task for a source/model pair.
func (c *Client) BeginStage1(sourceRef, modelName string) (*task.Task, error) {
	var resp TaskResponse
	req := BeginStage1Request{SourceRef: sourceRef, ModelName: modelName}
	if err := c.call("BeginStage1", req, &resp); err != nil {
		return nil, err
	}
	return resp.Task.ToTask(), nil
}

// BeginStage2 queues the report stage of an existing task.
func (c *Client) BeginStage2(taskID string) (*task.Task, error) {
	var resp TaskResponse
	if err := c.call("BeginStage2", BeginStage2Request{TaskID: taskID}, &resp); err != nil {
		return nil, err
	}
	return resp.Task.ToTask(), nil
}

// MarkProcessing claims a pending stage for execution.
func (c *Client) MarkProcessing(taskID string, stage task.Stage) (*task.Task, error) {
	var resp TaskResponse
	req := StageRequest{TaskID: taskID, Stage: string(stage)}
	if err := c.call("MarkProcessing", req, &resp); err != nil {
		return nil, err
	}
	return resp.Task.ToTask(), nil
}

// CompleteStage records a successful stage run.
func (c *Client) CompleteStage(taskID string, stage task.Stage, outputRef string) (*task.Task, error) {
	var resp TaskResponse
	req := CompleteStageRequest{TaskID: taskID, Stage: string(stage), OutputRef: outputRef}
	if err := c.call("CompleteStage", req, &resp); err != nil {
		return nil, err
	}
	return resp.Task.ToTask(), nil
}

// FailStage records a failed stage run.
func (c *Client) FailStage(taskID string, stage task.Stage, message string) (*task.Task, error) {
	var resp TaskResponse
	req := FailStageRequest{TaskID: taskID, Stage: string(stage), Message: message}
	if err := c.call("FailStage", req, &resp); err != nil {
		return nil, err
	}
	return resp.Task.ToTask(), nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(taskID string) (*task.Task, error) {
	var resp TaskResponse
	if err := c.call("GetTask", GetTaskRequest{TaskID: taskID}, &resp); err != nil {
		return nil, err
	}
	return resp.Task.ToTask(), nil
}

// ListTasks fetches the committed state of every task.
func (c *Client) ListTasks() ([]*task.Task, error) {
	var resp ListTasksResponse
	if err := c.call("ListTasks", ListTasksRequest{}, &resp); err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, 0, len(resp.Tasks))
	for _, view := range resp.Tasks {
		tasks = append(tasks, view.ToTask())
	}
	return tasks, nil
}

// Stats fetches aggregate task counts.
func (c *Client) Stats() (task.Stats, error) {
	var resp StatsResponse
	if err := c.call("Stats", StatsRequest{}, &resp); err != nil {
		return task.Stats{}, err
	}
	return resp.Stats, nil
}

// ResetStuck returns long-stuck processing stages to pending.
func (c *Client) ResetStuck(olderThanMinutes int) (int64, error) {
	var resp ResetStuckResponse
	if err := c.call("ResetStuck", ResetStuckRequest{OlderThanMinutes: olderThanMinutes}, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}
