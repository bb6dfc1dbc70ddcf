package protocol

// DiscoverProbe is the exact literal payload a discovery probe must carry.
const DiscoverProbe = "DISCOVER_SERVER"

// DiscoveryResponse is the JSON an agent's discovery responder sends back to
// the probe's source address. The four stream ports let the controller dial
// all four channels without a second round trip.
type DiscoveryResponse struct {
	Type      string `json:"type"`
	Hostname  string `json:"hostname"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	WSMain    int    `json:"ws_main"`
	WSStats   int    `json:"ws_stats"`
	WSFiles   int    `json:"ws_files"`
	WSDesktop int    `json:"ws_desktop"`
}

// ResponseType is the literal type discriminator of DiscoveryResponse.
const ResponseType = "SERVER_RESPONSE"
