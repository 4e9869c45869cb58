package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Tuning 车辆物理参数（服务端权威）
type Tuning struct {
	MaxForward   float64 `json:"maxForward" validate:"gt=0"`
	MaxReverse   float64 `json:"maxReverse" validate:"gt=0,ltfield=MaxForward"`
	Acceleration float64 `json:"acceleration" validate:"gt=0"`
	Deceleration float64 `json:"deceleration" validate:"gt=0"`
	TurnRate     float64 `json:"turnRate" validate:"gt=0"` // 度/秒
	BrakeFactor  float64 `json:"brakeFactor" validate:"gt=0,lt=1"`
	SpawnRadius  float64 `json:"spawnRadius" validate:"gte=0"`
}

// DefaultTuning 与原始客户端手感保持一致的默认参数
func DefaultTuning() Tuning {
	return Tuning{
		MaxForward:   15,
		MaxReverse:   7.5,
		Acceleration: 0.2,
		Deceleration: 0.1,
		TurnRate:     2.5,
		BrakeFactor:  0.95,
		SpawnRadius:  5,
	}
}

// Config 服务进程配置
type Config struct {
	Host     string `validate:"omitempty,hostname|ip"`
	Port     int    `validate:"min=0,max=65535"`
	KCPAddr  string `validate:"omitempty,hostname_port"`
	HTTPAddr string `validate:"omitempty,hostname_port"`

	TickRate     int `validate:"min=1,max=240"`
	RoomCapacity int `validate:"min=1,max=64"`
	CodeLength   int `validate:"min=4,max=12"`

	SweepInterval  time.Duration `validate:"gt=0"`
	EmptyRoomGrace time.Duration `validate:"gte=0"`
	ReadTimeout    time.Duration `validate:"gte=0"` // 0 表示不超时
	WriteTimeout   time.Duration `validate:"gte=0"`
	SendQueue      int           `validate:"min=1"`
	ShutdownGrace  time.Duration `validate:"gt=0"`

	LogFile  string
	LogLevel string `validate:"oneof=debug info warn error"`

	Tuning Tuning
}

// DefaultConfig 默认配置：7777 端口、30Hz、每房间 4 人
func DefaultConfig() Config {
	return Config{
		Port:           7777,
		HTTPAddr:       ":8080",
		TickRate:       30,
		RoomCapacity:   4,
		CodeLength:     6,
		SweepInterval:  5 * time.Second,
		EmptyRoomGrace: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		SendQueue:      64,
		ShutdownGrace:  5 * time.Second,
		LogLevel:       "info",
		Tuning:         DefaultTuning(),
	}
}

// Addr TCP 监听地址
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var validate = validator.New()

// Validate 校验配置字段
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig 依次应用默认值、.env 文件（可选）与 KART_* 环境变量
func LoadConfig(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := DefaultConfig()
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flt := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("KART_HOST", &cfg.Host)
	num("KART_PORT", &cfg.Port)
	str("KART_KCP_ADDR", &cfg.KCPAddr)
	str("KART_HTTP_ADDR", &cfg.HTTPAddr)
	num("KART_TICK_RATE", &cfg.TickRate)
	num("KART_ROOM_CAPACITY", &cfg.RoomCapacity)
	num("KART_CODE_LENGTH", &cfg.CodeLength)
	dur("KART_SWEEP_INTERVAL", &cfg.SweepInterval)
	dur("KART_EMPTY_ROOM_GRACE", &cfg.EmptyRoomGrace)
	dur("KART_READ_TIMEOUT", &cfg.ReadTimeout)
	dur("KART_WRITE_TIMEOUT", &cfg.WriteTimeout)
	num("KART_SEND_QUEUE", &cfg.SendQueue)
	dur("KART_SHUTDOWN_GRACE", &cfg.ShutdownGrace)
	str("KART_LOG_FILE", &cfg.LogFile)
	str("KART_LOG_LEVEL", &cfg.LogLevel)
	flt("KART_MAX_FORWARD", &cfg.Tuning.MaxForward)
	flt("KART_MAX_REVERSE", &cfg.Tuning.MaxReverse)
	flt("KART_ACCELERATION", &cfg.Tuning.Acceleration)
	flt("KART_DECELERATION", &cfg.Tuning.Deceleration)
	flt("KART_TURN_RATE", &cfg.Tuning.TurnRate)
	flt("KART_BRAKE_FACTOR", &cfg.Tuning.BrakeFactor)
	flt("KART_SPAWN_RADIUS", &cfg.Tuning.SpawnRadius)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}
