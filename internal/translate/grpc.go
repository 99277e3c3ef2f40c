package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// translateMethod is the unary RPC served by the translator sidecar. Requests
// and responses are google.protobuf.Struct values.
const translateMethod = "/lingua.translate.v1.Translator/Translate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC translator client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// GRPCClient translates through a gRPC sidecar.
type GRPCClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// DialGRPC connects to the translator sidecar and waits until it is ready.
func DialGRPC(cfg GRPCConfig, logger *slog.Logger) (*GRPCClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = 2 * time.Minute
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 10 * time.Second
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create translator client for %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("translator at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to translator service", "address", cfg.Address)
	return newGRPCClient(conn, cfg.Address, logger), nil
}

func newGRPCClient(conn *grpc.ClientConn, addr string, logger *slog.Logger) *GRPCClient {
	return &GRPCClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   addr,
		logger: logger,
	}
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

// Name implements Translator.
func (c *GRPCClient) Name() string { return "grpc" }

// Translate implements Translator.
func (c *GRPCClient) Translate(ctx context.Context, req Request) (Result, error) {
	in, err := structpb.NewStruct(map[string]any{
		"text":   req.Text,
		"source": req.Source,
		"target": req.Target,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, translateMethod, in, out); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resultFromStruct(req, out)
}

func resultFromStruct(req Request, out *structpb.Struct) (Result, error) {
	fields := out.GetFields()
	text := fields["translated_text"].GetStringValue()
	if text == "" {
		return Result{}, fmt.Errorf("%w: empty translation", ErrUnavailable)
	}
	r := Result{
		Text:       text,
		Source:     req.Source,
		Target:     req.Target,
		Confidence: 0.9,
	}
	if v, ok := fields["source_language"]; ok && v.GetStringValue() != "" {
		r.Source = v.GetStringValue()
	}
	if v, ok := fields["confidence"]; ok {
		if f := v.GetNumberValue(); f > 0 && f <= 1 {
			r.Confidence = f
		}
	}
	return r, nil
}

// Healthy reports whether the sidecar's health service says SERVING.
func (c *GRPCClient) Healthy(ctx context.Context) bool {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		c.logger.Warn("Translator health check failed", "address", c.addr, "error", err)
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// Close closes the gRPC connection.
func (c *GRPCClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
