package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// ID prefixes for different models
const (
	PrefixAccount   = "acct_"
	PrefixProfile   = "prof_"
	PrefixDevice    = "dev_"
	PrefixSession   = "sess_"
	PrefixUsageLog  = "log_"
	PrefixWarning   = "warn_"
	PrefixExtension = "ext_"
)

// deviceCodeBytes is the entropy of a device code; 4 bytes = 8 hex chars
const deviceCodeBytes = 4

// NewAccount generates a new account ID with acct_ prefix
func NewAccount() string {
	return PrefixAccount + uuid.New().String()
}

// NewProfile generates a new profile ID with prof_ prefix
func NewProfile() string {
	return PrefixProfile + uuid.New().String()
}

// NewDevice generates a new device ID with dev_ prefix
func NewDevice() string {
	return PrefixDevice + uuid.New().String()
}

// NewSession generates a new session ID with sess_ prefix
func NewSession() string {
	return PrefixSession + uuid.New().String()
}

// NewUsageLog generates a new usage log ID with log_ prefix
func NewUsageLog() string {
	return PrefixUsageLog + uuid.New().String()
}

// NewWarning generates a new warning ID with warn_ prefix
func NewWarning() string {
	return PrefixWarning + uuid.New().String()
}

// NewExtension generates a new extension request ID with ext_ prefix
func NewExtension() string {
	return PrefixExtension + uuid.New().String()
}

// NewDeviceCode generates the code a child device presents, e.g. "9F03A2BC"
func NewDeviceCode() (string, error) {
	b := make([]byte, deviceCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
