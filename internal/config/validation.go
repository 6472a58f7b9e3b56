package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/shellcache/internal/cache"
)

var supportedDrivers = map[string]struct{}{
	cache.DriverFS:     {},
	cache.DriverSQLite: {},
	cache.DriverMemory: {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedDrivers[strings.ToLower(g.StorageDriver)]; !ok {
		return newFieldError("StorageDriver", "仅支持 fs/sqlite/memory")
	}
	if g.StorageDriver != cache.DriverMemory && strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if g.MaxBodySize <= 0 {
		return newFieldError("MaxBodySize", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("ShutdownTimeout", "必须大于 0")
	}

	s := c.Site
	if err := validateOrigin(s.Origin); err != nil {
		return fmt.Errorf("Origin: %w", err)
	}
	if err := cache.ValidateGeneration(s.Generation); err != nil {
		return newFieldError("Generation", err.Error())
	}
	if len(s.Precache) == 0 {
		return newFieldError("Precache", "至少需要一个资源")
	}
	for i, key := range s.Precache {
		if strings.TrimSpace(key) == "" {
			return newFieldError(fmt.Sprintf("Precache[%d]", i), "不能为空")
		}
	}
	pinned := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s.PinnedResource), "./"), "/")
	if pinned == "" {
		return newFieldError("PinnedResource", "不能为空")
	}
	if strings.Contains(pinned, "/") {
		return newFieldError("PinnedResource", "只能是单个文件名")
	}
	if s.PrecacheConcurrency <= 0 {
		return newFieldError("PrecacheConcurrency", "必须大于 0")
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}
