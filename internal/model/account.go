package model

import "time"

// AccountStatus is the operator-visible lifecycle status of an account.
// Only the supervisor transitions it.
type AccountStatus string

const (
	StatusIdle         AccountStatus = "idle"
	StatusConnecting   AccountStatus = "connecting"
	StatusQRReady      AccountStatus = "qr_ready"
	StatusQRExpired    AccountStatus = "qr_expired"
	StatusQRInvalid    AccountStatus = "qr_invalid"
	StatusConnected    AccountStatus = "connected"
	StatusReconnecting AccountStatus = "reconnecting"
	StatusNeedsQR      AccountStatus = "needs_qr"
	StatusDisconnected AccountStatus = "disconnected"
	StatusLoggedOut    AccountStatus = "logged_out"
)

// AgeTier determines which rate-limit budget applies to an account.
type AgeTier string

const (
	TierNew         AgeTier = "new"
	TierNormal      AgeTier = "normal"
	TierEstablished AgeTier = "established"
)

type Account struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      AccountStatus `json:"status"`
	Phone       string        `json:"phone,omitempty"`
	QRCode      string        `json:"qrCode,omitempty"`
	PairingCode string        `json:"pairingCode,omitempty"`
	Tier        AgeTier       `json:"tier"`
	CreatedAt   time.Time     `json:"createdAt"`

	// ReconnectAttempts counts consecutive failed connect attempts; reset
	// to zero on every successful connection.
	ReconnectAttempts int `json:"reconnectAttempts"`
}
