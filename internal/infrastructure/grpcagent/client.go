// Package grpcagent talks to the remote execution backend behind the
// "cloud" agent family: `autodrive cloud submit --wait` resolves to
// this client. The backend speaks google.protobuf.Struct payloads on
// both directions, so no generated stubs are needed; the method table
// below is the whole contract.
package grpcagent

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	methodSubmit = "/autodrive.cloud.v1.CloudExecutor/Submit"
	methodWatch  = "/autodrive.cloud.v1.CloudExecutor/Watch"
	methodResult = "/autodrive.cloud.v1.CloudExecutor/Result"
)

var watchStreamDesc = grpc.StreamDesc{
	StreamName:    "Watch",
	ServerStreams: true,
}

// Client is the cloud execution backend client.
type Client struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

// New dials the backend. The connection is lazy; a bad address fails on
// the first call, not here.
func New(host string, port int, logger *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gRPC client for cloud executor at %s: %w", addr, err)
	}

	logger.Info("Created cloud executor client", zap.String("address", addr))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Submit enqueues a prompt on the backend and returns its task id.
func (c *Client) Submit(ctx context.Context, prompt, model string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"prompt": prompt,
		"model":  model,
	})
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodSubmit, req, resp); err != nil {
		c.logger.Error("gRPC Submit call failed", zap.Error(err), zap.String("model", model))
		return "", err
	}

	taskID := stringField(resp, "task_id")
	if taskID == "" {
		return "", fmt.Errorf("cloud executor returned no task_id")
	}
	return taskID, nil
}

// Watch streams progress lines for a task until the stream ends. Each
// message carries either a "progress" line or a terminal "status".
func (c *Client) Watch(ctx context.Context, taskID string, progress func(string)) error {
	req, err := structpb.NewStruct(map[string]any{"task_id": taskID})
	if err != nil {
		return fmt.Errorf("build watch request: %w", err)
	}

	stream, err := c.conn.NewStream(ctx, &watchStreamDesc, methodWatch)
	if err != nil {
		return fmt.Errorf("open watch stream: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return fmt.Errorf("send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close watch send: %w", err)
	}

	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if line := stringField(msg, "progress"); line != "" && progress != nil {
			progress(line)
		}
		if status := stringField(msg, "status"); status == "failed" {
			return fmt.Errorf("cloud task %s failed: %s", taskID, stringField(msg, "error"))
		}
	}
}

// Result fetches a finished task's output (stdout, possibly a git diff).
func (c *Client) Result(ctx context.Context, taskID string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{"task_id": taskID})
	if err != nil {
		return "", fmt.Errorf("build result request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, methodResult, req, resp); err != nil {
		return "", err
	}
	return stringField(resp, "output"), nil
}

// SubmitAndWait runs the full submit → watch → result pipeline, the
// path `autodrive cloud submit --wait` takes.
func (c *Client) SubmitAndWait(ctx context.Context, prompt, model string, progress func(string)) (string, error) {
	taskID, err := c.Submit(ctx, prompt, model)
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress("submitted task " + taskID)
	}
	if err := c.Watch(ctx, taskID, progress); err != nil {
		return "", err
	}
	return c.Result(ctx, taskID)
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
