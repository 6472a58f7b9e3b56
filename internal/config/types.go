package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 支持 "64MiB"、"10 MB" 等可读写法，也接受纯字节整数。
type ByteSize int64

// UnmarshalText 使用 go-humanize 解析可读容量。
func (b *ByteSize) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*b = 0
		return nil
	}
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid size value: %s", raw)
	}
	*b = ByteSize(size)
	return nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String 输出 IEC 单位的可读形式。
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听、日志、存储与超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxBodySize     ByteSize `mapstructure:"MaxBodySize"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// SiteConfig 描述被缓存的站点：源地址、当前代、预缓存清单与策略参数。
type SiteConfig struct {
	Origin              string   `mapstructure:"Origin"`
	Generation          string   `mapstructure:"Generation"`
	Precache            []string `mapstructure:"Precache"`
	AppShell            string   `mapstructure:"AppShell"`
	PinnedResource      string   `mapstructure:"PinnedResource"`
	PrecacheConcurrency int      `mapstructure:"PrecacheConcurrency"`
}

// Config 是 TOML 文件映射的整体结构，所有字段位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Site   SiteConfig   `mapstructure:",squash"`
}

// OriginURL 解析 Origin，假定 Validate 已经通过。
func (s SiteConfig) OriginURL() (*url.URL, error) {
	return url.Parse(strings.TrimSpace(s.Origin))
}

// SameDeployment 判断两份配置是否指向同一个 Worker 版本，用于热重载时决定是否重新部署。
func (s SiteConfig) SameDeployment(other SiteConfig) bool {
	if s.Origin != other.Origin || s.Generation != other.Generation ||
		s.AppShell != other.AppShell || s.PinnedResource != other.PinnedResource ||
		len(s.Precache) != len(other.Precache) {
		return false
	}
	for i := range s.Precache {
		if s.Precache[i] != other.Precache[i] {
			return false
		}
	}
	return true
}
