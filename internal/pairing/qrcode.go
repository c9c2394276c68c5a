// Package pairing encodes connection details for mobile clients as QR codes.
package pairing

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/brianly1003/chatcast/internal/security"
)

// PairingInfo contains the information encoded in the QR code.
type PairingInfo struct {
	WebSocket string `json:"ws"`
	HTTP      string `json:"http"`
	Principal string `json:"principal"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"` // unix seconds
}

// QRGenerator generates QR codes for mobile pairing.
type QRGenerator struct {
	httpURL   string
	principal string
	token     string
	expiresAt time.Time
}

// NewQRGenerator creates a generator for a server reachable at baseURL,
// e.g. "http://192.168.1.10:8080" or "https://chat.example.com".
func NewQRGenerator(baseURL, principal string) *QRGenerator {
	return &QRGenerator{
		httpURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		principal: principal,
	}
}

// SetToken sets the access token and its expiry.
func (g *QRGenerator) SetToken(token string, expiresAt time.Time) {
	g.token = token
	g.expiresAt = expiresAt
}

// GetPairingInfo returns the pairing information. The websocket URL is
// derived from the HTTP URL.
func (g *QRGenerator) GetPairingInfo() *PairingInfo {
	info := &PairingInfo{
		WebSocket: security.WebSocketURL(g.httpURL),
		HTTP:      g.httpURL,
		Principal: g.principal,
		Token:     g.token,
	}
	if !g.expiresAt.IsZero() {
		info.ExpiresAt = g.expiresAt.Unix()
	}
	return info
}

// GenerateJSON returns the pairing info as JSON.
func (g *QRGenerator) GenerateJSON() (string, error) {
	data, err := json.Marshal(g.GetPairingInfo())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GenerateTerminal generates a QR code for terminal display.
func (g *QRGenerator) GenerateTerminal() (string, error) {
	jsonData, err := g.GenerateJSON()
	if err != nil {
		return "", err
	}

	qr, err := qrcode.New(jsonData, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// GeneratePNG generates a PNG image of the QR code.
func (g *QRGenerator) GeneratePNG(size int) ([]byte, error) {
	jsonData, err := g.GenerateJSON()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(jsonData, qrcode.Medium, size)
}

// PrintToTerminal writes the QR code to w with a caption.
func (g *QRGenerator) PrintToTerminal(w io.Writer) error {
	qrStr, err := g.GenerateTerminal()
	if err != nil {
		return fmt.Errorf("generate QR code: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Scan to connect as %s:\n", g.principal)
	fmt.Fprintln(w)
	for _, line := range strings.Split(qrStr, "\n") {
		if line != "" {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintln(w)
	return nil
}
