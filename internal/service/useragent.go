package service

import (
	"strings"

	"github.com/SergeiKhy/shortlink-core/internal/models"
)

// clientInfo грубая классификация клиента по User-Agent
type clientInfo struct {
	Device  string
	Browser string
	OS      string
}

// parseUserAgent определяет устройство, браузер и ОС простым поиском подстрок
func parseUserAgent(ua string) clientInfo {
	if strings.TrimSpace(ua) == "" {
		return clientInfo{
			Device:  models.UnknownValue,
			Browser: models.UnknownValue,
			OS:      models.UnknownValue,
		}
	}

	ua = strings.ToLower(ua)
	return clientInfo{
		Device:  parseDevice(ua),
		Browser: parseBrowser(ua),
		OS:      parseOS(ua),
	}
}

func parseDevice(ua string) string {
	switch {
	case strings.Contains(ua, "tablet"), strings.Contains(ua, "ipad"):
		return "Tablet"
	case strings.Contains(ua, "mobile"):
		return "Mobile"
	default:
		return "Desktop"
	}
}

// Edge и Opera проверяются первыми: их UA тоже содержат "chrome" и "safari"
func parseBrowser(ua string) string {
	switch {
	case strings.Contains(ua, "edg"):
		return "Edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "safari"):
		return "Safari"
	default:
		return models.UnknownValue
	}
}

// Android содержит "linux", iOS содержит "mac os x", поэтому порядок важен
func parseOS(ua string) string {
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "iOS"
	case strings.Contains(ua, "mac"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return models.UnknownValue
	}
}
