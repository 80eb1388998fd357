package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

func sign(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// BillSignature signs an outbound bill request.
func BillSignature(username string, amount int64, currency, payerPhone, sharedKey string) string {
	return sign(username, strconv.FormatInt(amount, 10), currency, payerPhone, sharedKey)
}

// CallbackSignature is the digest the gateway attaches to status callbacks.
func CallbackSignature(billID, status string, amount int64, sharedKey string) string {
	return sign(billID, status, strconv.FormatInt(amount, 10), sharedKey)
}

// USSDSignature signs a push request for an existing bill.
func USSDSignature(username, billID, phone, sharedKey string) string {
	return sign(username, billID, phone, sharedKey)
}

func signaturesEqual(expected, provided string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(provided))))
}
