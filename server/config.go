package server

import (
	"github.com/chalvern/streamrpc/codec"
	"github.com/chalvern/streamrpc/internal/keepalive"
	"github.com/chalvern/streamrpc/internal/rpclog"
	"github.com/chalvern/streamrpc/streamctx"
)

// Config mirrors client.Config's shape for the server side: the same
// SharedHot tuning knobs, codec extension hook, keepalive, and tracing
// toggle, plus a logger. There is no IDGenerator here — a server engine
// never mints callIds, it only ever echoes the one the client chose.
type Config struct {
	SharedFlowBuffer           int
	SharedFlowReplay           int
	SharedFlowOnOverflow       streamctx.OverflowPolicy
	SerializersModuleExtension func(codec.Codec) codec.Codec

	Codec         codec.Codec
	Logger        rpclog.Logger
	Keepalive     keepalive.Params
	EnableTracing bool
}

func defaultConfig() Config {
	return Config{
		Codec:  codec.JSONCodec{},
		Logger: rpclog.Default(),
	}
}

func (c Config) hotConfig() streamctx.HotConfig {
	return streamctx.HotConfig{
		Buffer:     c.SharedFlowBuffer,
		Replay:     c.SharedFlowReplay,
		OnOverflow: c.SharedFlowOnOverflow,
	}
}

func (c Config) codec() codec.Codec {
	base := c.Codec
	if base == nil {
		base = codec.JSONCodec{}
	}
	if c.SerializersModuleExtension != nil {
		base = c.SerializersModuleExtension(base)
	}
	return base
}

// Option configures an Engine.
type Option func(*Config)

// WithSharedFlowBuffer sets the default SharedHot subscriber buffer size.
func WithSharedFlowBuffer(n int) Option { return func(c *Config) { c.SharedFlowBuffer = n } }

// WithSharedFlowReplay sets how many past elements a new SharedHot
// subscriber replays.
func WithSharedFlowReplay(n int) Option { return func(c *Config) { c.SharedFlowReplay = n } }

// WithOverflowPolicy sets the SharedHot overflow behavior.
func WithOverflowPolicy(p streamctx.OverflowPolicy) Option {
	return func(c *Config) { c.SharedFlowOnOverflow = p }
}

// WithSerializersModuleExtension installs a codec-wrapping hook.
func WithSerializersModuleExtension(f func(codec.Codec) codec.Codec) Option {
	return func(c *Config) { c.SerializersModuleExtension = f }
}

// WithCodec overrides the base Codec (default codec.JSONCodec).
func WithCodec(cc codec.Codec) Option { return func(c *Config) { c.Codec = cc } }

// WithLogger overrides the engine's logger.
func WithLogger(l rpclog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithKeepalive enables the idle-ping heartbeat on the server side,
// mirroring client.WithKeepalive.
func WithKeepalive(p keepalive.Params) Option { return func(c *Config) { c.Keepalive = p } }

// WithTracing enables golang.org/x/net/trace events per dispatched call.
func WithTracing(enabled bool) Option { return func(c *Config) { c.EnableTracing = enabled } }

func keeperOf(cfg Config) *keepalive.Keeper {
	return keepalive.New(cfg.Keepalive)
}
