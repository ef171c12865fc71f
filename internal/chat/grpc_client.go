package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// TurnMethod is the unary method invoked for each turn. Request and reply
// are google.protobuf.Struct values shaped like TurnRequest and TurnReply.
const TurnMethod = "/assistant.v1.ChatService/Turn"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcClient performs chat turns over gRPC.
type GrpcClient struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcClient dials the chat service and waits until it is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chat: create grpc client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first user message.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("chat: service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to chat service", "address", cfg.Address)
	return &GrpcClient{conn: conn, addr: cfg.Address, timeout: cfg.RequestTimeout, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Turn sends one message over the unary Turn method.
func (c *GrpcClient) Turn(ctx context.Context, in TurnRequest) (TurnReply, error) {
	req, err := structpb.NewStruct(map[string]any{
		"message": in.Message,
		"role":    in.Role,
	})
	if err != nil {
		return TurnReply{}, fmt.Errorf("chat: build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, TurnMethod, req, resp); err != nil {
		return TurnReply{}, fmt.Errorf("chat: turn rpc: %w", err)
	}
	return replyFromStruct(resp)
}

// replyFromStruct maps the loosely typed Struct onto TurnReply through its
// JSON form so that both transports share one decoding contract.
func replyFromStruct(s *structpb.Struct) (TurnReply, error) {
	raw, err := s.MarshalJSON()
	if err != nil {
		return TurnReply{}, fmt.Errorf("chat: encode reply: %w", err)
	}
	var out TurnReply
	if err := json.Unmarshal(raw, &out); err != nil {
		return TurnReply{}, fmt.Errorf("chat: decode reply: %w", err)
	}
	return out, nil
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

var _ Client = (*GrpcClient)(nil)
