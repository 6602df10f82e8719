package config

import "errors"

// Validate performs the semantic checks the teacher's Config.Validate does,
// scaled down to this server's single-store field set.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if c.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if c.StoreDir == "" {
		return newFieldError("StoreDir", "不能为空")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if c.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if c.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}

	return nil
}
