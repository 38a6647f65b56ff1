package canonical

import "github.com/opd-ai/go-emby-bridge/internal/emby"

// DefaultProductName is reported when the server omits ProductName.
const DefaultProductName = "Emby Server"

// ServerIdentity describes the media server in the shape consumers expect
// from a server identity lookup.
type ServerIdentity struct {
	MachineIdentifier string `json:"machine_identifier"`
	Version           string `json:"version"`
	ServerName        string `json:"server_name"`
	ProductName       string `json:"product_name"`
}

// NewServerIdentity normalizes the public system info. It returns false
// only when info is nil.
func NewServerIdentity(info *emby.PublicServerInfo) (ServerIdentity, bool) {
	if info == nil {
		return ServerIdentity{}, false
	}

	product := info.ProductName
	if product == "" {
		product = DefaultProductName
	}

	return ServerIdentity{
		MachineIdentifier: info.ID,
		Version:           info.Version,
		ServerName:        info.ServerName,
		ProductName:       product,
	}, true
}
