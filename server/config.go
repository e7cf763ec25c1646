package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"timewarp/reconcile"
	"timewarp/world"
)

// Config 服务进程配置，可从 YAML 文件加载，再由命令行参数覆盖
type Config struct {
	Addr        string     `yaml:"addr"`
	LogFile     string     `yaml:"logFile"`
	LogLevel    string     `yaml:"logLevel"`
	DefaultRoom string     `yaml:"defaultRoom"`
	Static      string     `yaml:"static"` // 静态资源目录，空则不挂载
	Room        RoomConfig `yaml:"room"`
}

// RoomConfig 每个房间的参数；带 hot 标记的字段可通过 /admin/config 热更新
type RoomConfig struct {
	CompactIntervalMs   int     `yaml:"compactIntervalMs" json:"compactIntervalMs"`     // hot
	MaxLead             uint64  `yaml:"maxLead" json:"maxLead"`                         // hot
	ReduceLag           uint64  `yaml:"reduceLag" json:"reduceLag"`                     // hot
	MaxHistory          int     `yaml:"maxHistory" json:"maxHistory"`                   // hot
	RateLimit           float64 `yaml:"rateLimit" json:"rateLimit"`                     // hot，每秒意图数，0 不限
	RateBurst           int     `yaml:"rateBurst" json:"rateBurst"`                     // hot
	StartingAmmo        uint32  `yaml:"startingAmmo" json:"startingAmmo"`               // 新房间生效
	TranslateDurationMs int     `yaml:"translateDurationMs" json:"translateDurationMs"` // 新房间生效
	SimulateDelayMinMs  int     `yaml:"simulateDelayMinMs" json:"simulateDelayMinMs"`   // hot
	SimulateDelayMaxMs  int     `yaml:"simulateDelayMaxMs" json:"simulateDelayMaxMs"`   // hot
	SimulateDropProb    float64 `yaml:"simulateDropProb" json:"simulateDropProb"`       // hot
}

func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		LogFile:     "timewarp.log",
		LogLevel:    "info",
		DefaultRoom: "room-1",
		Room:        DefaultRoomConfig(),
	}
}

func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		CompactIntervalMs:   1000,
		MaxLead:             reconcile.DefaultMaxLead,
		ReduceLag:           reconcile.DefaultReduceLag,
		MaxHistory:          4096,
		RateBurst:           20,
		StartingAmmo:        world.DefaultStartingAmmo,
		TranslateDurationMs: int(world.DefaultTranslateDuration / time.Millisecond),
	}
}

// LoadConfig 读取 YAML 配置；path 为空时返回默认值。文件中缺失的字段保留默认值。
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Room.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

func (c RoomConfig) Validate() error {
	switch {
	case c.CompactIntervalMs <= 0:
		return fmt.Errorf("%w: compactIntervalMs must be positive", ErrInvalidConfig)
	case c.MaxHistory < 0:
		return fmt.Errorf("%w: maxHistory must not be negative", ErrInvalidConfig)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rateLimit must not be negative", ErrInvalidConfig)
	case c.RateLimit > 0 && c.RateBurst <= 0:
		return fmt.Errorf("%w: rateBurst must be positive when rateLimit is set", ErrInvalidConfig)
	case c.TranslateDurationMs < 0:
		return fmt.Errorf("%w: translateDurationMs must not be negative", ErrInvalidConfig)
	case c.SimulateDelayMinMs < 0 || c.SimulateDelayMaxMs < c.SimulateDelayMinMs:
		return fmt.Errorf("%w: simulated delay range [%d,%d]", ErrInvalidConfig, c.SimulateDelayMinMs, c.SimulateDelayMaxMs)
	case c.SimulateDropProb < 0 || c.SimulateDropProb > 1:
		return fmt.Errorf("%w: simulateDropProb must be within [0,1]", ErrInvalidConfig)
	}
	return nil
}

func (c RoomConfig) limit() rate.Limit {
	if c.RateLimit <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.RateLimit)
}

// tuning 可在运行期调整的协议参数
func (c RoomConfig) tuning() []reconcile.Option {
	return []reconcile.Option{
		reconcile.WithMaxLead(c.MaxLead),
		reconcile.WithReduceLag(c.ReduceLag),
		reconcile.WithMaxHistory(c.MaxHistory),
		reconcile.WithRateLimit(c.limit(), c.RateBurst),
	}
}

func (c RoomConfig) worldOptions() []world.Option {
	return []world.Option{
		world.WithStartingAmmo(c.StartingAmmo),
		world.WithTranslateDuration(time.Duration(c.TranslateDurationMs) * time.Millisecond),
	}
}

func (c RoomConfig) compactInterval() time.Duration {
	return time.Duration(c.CompactIntervalMs) * time.Millisecond
}
