package models

// TOTPSetup is returned when an authenticator enrollment begins. The secret
// and QR code are shown exactly once; only the encrypted secret is stored.
type TOTPSetup struct {
	Secret string `json:"secret"`  // base32 provisioning secret
	QRCode string `json:"qr_code"` // PNG data URL of the provisioning URI
}

// TOTPStatus summarizes a user's authenticator enrollment.
type TOTPStatus struct {
	Enabled bool `json:"enabled"`
}
