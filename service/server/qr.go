package server

import (
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// qrSize is the edge length in pixels of generated QR codes.
const qrSize = 256

// explorerURL links a transaction on the public block explorer.
func explorerURL(network, signature string) string {
	u := url.URL{
		Scheme: "https",
		Host:   "explorer.solana.com",
		Path:   "/tx/" + signature,
	}
	switch network {
	case "mainnet":
	case "local":
		u.RawQuery = url.Values{
			"cluster":   {"custom"},
			"customUrl": {"http://localhost:8899"},
		}.Encode()
	default:
		u.RawQuery = url.Values{"cluster": {network}}.Encode()
	}
	return u.String()
}

// generateQRCode encodes data as a PNG QR code.
func generateQRCode(data string) ([]byte, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}
	return png, nil
}
