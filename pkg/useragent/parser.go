package useragent

import (
	"fmt"
	"os"
	"strings"

	"github.com/ua-parser/uap-go/uaparser"
	"go.uber.org/zap"

	"shortlink/internal/domain"
)

// Parser classifies User-Agent strings into the device classes stored with clicks.
type Parser struct {
	parser *uaparser.Parser
	log    *zap.Logger
}

// DeviceInfo is the parsed view of a User-Agent.
type DeviceInfo struct {
	DeviceType string // one of the domain.Device* classes
	Browser    string
	OS         string
}

var (
	botIndicators = []string{
		"googlebot", "bingbot", "slurp", "duckduckbot", "baiduspider",
		"yandexbot", "facebookexternalhit", "twitterbot", "linkedinbot",
		"whatsapp", "telegram", "skypeuripreview", "bot", "crawler",
		"spider", "scraper", "curl", "wget",
	}
	tabletDevices = []string{"ipad", "tablet", "kindle", "surface"}
	mobileDevices = []string{"iphone", "android", "blackberry", "windows phone", "mobile", "phone"}
	mobileOS      = []string{"ios", "android", "windows phone", "blackberry os", "firefox os", "sailfish os"}
	desktopOS     = []string{
		"windows", "mac os x", "macos", "linux", "ubuntu",
		"chrome os", "freebsd", "openbsd", "netbsd",
	}
)

// NewParser loads regexes from regexFilePath, or the definitions bundled with
// uap-go when the path is empty.
func NewParser(regexFilePath string, log *zap.Logger) (*Parser, error) {
	if regexFilePath == "" {
		log.Info("User-Agent parser initialized from bundled regexes")
		return &Parser{parser: uaparser.NewFromSaved(), log: log}, nil
	}

	regexBytes, err := os.ReadFile(regexFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read regexes file %s: %w", regexFilePath, err)
	}

	parser, err := uaparser.NewFromBytes(regexBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create User-Agent parser: %w", err)
	}

	log.Info("User-Agent parser initialized", zap.String("regexes_file", regexFilePath))
	return &Parser{parser: parser, log: log}, nil
}

// Parse never fails; unrecognised input yields the unknown class.
func (p *Parser) Parse(userAgent string) DeviceInfo {
	if strings.TrimSpace(userAgent) == "" {
		return DeviceInfo{DeviceType: domain.DeviceUnknown, Browser: "unknown", OS: "unknown"}
	}

	client := p.parser.Parse(userAgent)
	info := DeviceInfo{
		DeviceType: deviceType(client, userAgent),
		Browser:    orUnknown(client.UserAgent.Family),
		OS:         orUnknown(client.Os.Family),
	}

	p.log.Debug("parsed User-Agent",
		zap.String("device_type", info.DeviceType),
		zap.String("browser", info.Browser),
		zap.String("os", info.OS),
	)
	return info
}

func deviceType(client *uaparser.Client, userAgent string) string {
	ua := strings.ToLower(userAgent)
	family := strings.ToLower(client.UserAgent.Family)

	if containsAny(family, botIndicators) || containsAny(ua, botIndicators) ||
		strings.EqualFold(client.Device.Family, "Spider") {
		return domain.DeviceBot
	}

	if device := strings.ToLower(client.Device.Family); device != "" && device != "other" {
		if containsAny(device, tabletDevices) {
			return domain.DeviceTablet
		}
		if containsAny(device, mobileDevices) {
			return domain.DeviceMobile
		}
	}

	osFamily := strings.ToLower(client.Os.Family)
	if containsAny(osFamily, mobileOS) {
		// iPads report iOS; Android tablets usually omit "Mobile"
		switch {
		case strings.Contains(osFamily, "ios") && strings.Contains(ua, "ipad"):
			return domain.DeviceTablet
		case strings.Contains(osFamily, "android") && !strings.Contains(ua, "mobile"):
			return domain.DeviceTablet
		}
		return domain.DeviceMobile
	}

	if containsAny(osFamily, desktopOS) {
		return domain.DeviceDesktop
	}
	return domain.DeviceUnknown
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" || s == "Other" {
		return "unknown"
	}
	return s
}
