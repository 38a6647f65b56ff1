package emby

import (
	"fmt"
	"net/http"
)

// clientVersion is reported to Emby in the client identification headers.
const clientVersion = "1.0.0"

// GetAuthHeaders returns the headers attached to every API request. The
// token travels in the configured header so deployments behind proxies that
// expect X-MediaBrowser-Token work without code changes.
func (c *Client) GetAuthHeaders() map[string]string {
	return map[string]string{
		c.config.TokenHeader:    c.config.APIKey,
		"X-Emby-Authorization":  c.authorization(),
		"X-Emby-Client":         c.config.ClientName,
		"X-Emby-Device-Name":    c.config.ClientName,
		"X-Emby-Device-Id":      c.config.DeviceID,
		"X-Emby-Client-Version": clientVersion,
	}
}

// authorization builds the MediaBrowser identification value. It carries no
// token; authentication rides on the token header alone.
func (c *Client) authorization() string {
	return fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		c.config.ClientName, c.config.ClientName, c.config.DeviceID, clientVersion)
}

func (c *Client) setHeaders(h http.Header) {
	for name, value := range c.GetAuthHeaders() {
		h.Set(name, value)
	}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
}
