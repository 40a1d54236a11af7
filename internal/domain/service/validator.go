package service

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Validator 提供配置输入的验证功能
type Validator struct{}

// NewValidator 创建新的验证器实例
func NewValidator() *Validator {
	return &Validator{}
}

// blacklistHosts 禁止访问的内部网络地址前缀
var blacklistHosts = []string{
	"localhost", "127.0.0.1", "0.0.0.0", "::1",
	"192.168.", "10.", "172.16.", "169.254.",
}

// ValidateSourceURL 验证RSS源URL的合法性
func (v *Validator) ValidateSourceURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return errors.New("URL不能为空")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("无效的URL格式: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("只允许HTTP/HTTPS协议: %s", rawURL)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("URL缺少主机名: %s", rawURL)
	}

	// 禁止访问内部网络
	for _, banned := range blacklistHosts {
		if host == banned || strings.HasPrefix(host, banned) {
			return fmt.Errorf("禁止访问内部网络地址: %s", host)
		}
	}

	return nil
}

// ValidateOpmlPath 验证OPML文件路径可用性
func (v *Validator) ValidateOpmlPath(filePath string) error {
	if strings.TrimSpace(filePath) == "" {
		return errors.New("文件路径不能为空")
	}

	if !strings.HasSuffix(strings.ToLower(filePath), ".opml") {
		return fmt.Errorf("只允许.opml文件格式: %s", filePath)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("文件访问失败: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("路径指向目录而非文件: %s", filePath)
	}

	// 限制文件大小，防止误配大文件
	if info.Size() > 10*1024*1024 {
		return fmt.Errorf("文件过大(>10MB): %s", filePath)
	}

	return nil
}

// GetAPIKey 获取Deepseek API密钥，环境变量优先于配置
func (v *Validator) GetAPIKey(configKey string) (string, error) {
	if apiKey := os.Getenv("DEEPSEEK_API_KEY"); apiKey != "" {
		return apiKey, nil
	}

	if configKey == "" {
		return "", errors.New("未找到Deepseek API密钥，请设置环境变量 DEEPSEEK_API_KEY")
	}

	if strings.Contains(configKey, "****") {
		return "", errors.New("检测到占位符API密钥，请使用环境变量设置真实密钥")
	}

	return configKey, nil
}
