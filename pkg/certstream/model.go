// Package certstream streams newly issued certificates from a certstream
// websocket server.
package certstream

// Message is one payload from a certstream websocket feed.
type Message struct {
	MessageType string `json:"message_type"`
	Data        Data   `json:"data"`
}

// Data carries the body of a certificate_update message.
type Data struct {
	UpdateType string   `json:"update_type"`
	LeafCert   LeafCert `json:"leaf_cert"`
	CertIndex  float64  `json:"cert_index"`
	Seen       float64  `json:"seen"`
	Source     Source   `json:"source"`
}

// LeafCert holds the fields of the leaf certificate the watcher consumes.
type LeafCert struct {
	Subject      map[string]string `json:"subject"`
	NotBefore    float64           `json:"not_before"`
	NotAfter     float64           `json:"not_after"`
	SerialNumber string            `json:"serial_number"`
	Fingerprint  string            `json:"fingerprint"`
	AllDomains   []string          `json:"all_domains"`
}

// Source identifies the CT log a certificate was observed in.
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
