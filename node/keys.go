package node

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// defaultHMACKey is the compile-time constant key used by the "default"
// key source. It is intentionally unexciting: any deployment that cares
// about secrecy supplies --hmac-key.
const defaultHMACKey = "kolibri-default-hmac-key-20250923"

// KeyOrigin names which of the three sources in spec.md 4.F produced a
// runtime's HMAC key.
type KeyOrigin int

const (
	// KeyOriginDefault means the compile-time constant key was used.
	KeyOriginDefault KeyOrigin = iota
	// KeyOriginInline means the key came from a CLI argument.
	KeyOriginInline
	// KeyOriginPath means the key came from a file's contents.
	KeyOriginPath
)

func (o KeyOrigin) String() string {
	switch o {
	case KeyOriginDefault:
		return "default"
	case KeyOriginInline:
		return "inline"
	case KeyOriginPath:
		return "path"
	default:
		return "unknown"
	}
}

const maxInlineKeyLen = 64

// LoadKey resolves --hmac-key's three possible forms: empty means
// "default"; a leading '@' means "path" (rest is the file path, trailing
// \n/\r stripped, empty file is an error); anything else is "inline"
// (max 64 bytes).
func LoadKey(arg string) ([]byte, KeyOrigin, error) {
	if arg == "" {
		return []byte(defaultHMACKey), KeyOriginDefault, nil
	}
	if strings.HasPrefix(arg, "@") {
		path := arg[1:]
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, KeyOriginPath, fmt.Errorf("node: reading key file %s: %w", path, err)
		}
		trimmed := bytes.TrimRight(raw, "\r\n")
		if len(trimmed) == 0 {
			return nil, KeyOriginPath, fmt.Errorf("node: key file %s is empty", path)
		}
		return trimmed, KeyOriginPath, nil
	}
	if len(arg) > maxInlineKeyLen {
		return nil, KeyOriginInline, fmt.Errorf("node: inline key exceeds %d bytes", maxInlineKeyLen)
	}
	return []byte(arg), KeyOriginInline, nil
}
