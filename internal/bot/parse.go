package bot

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ParseIDArg extracts a numeric subscription ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("subscription ID is required")
	}
	first := strings.TrimPrefix(strings.Fields(s)[0], "#")
	id, err := strconv.ParseInt(first, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subscription ID %q", s)
	}
	return id, nil
}

// IsOPMLFile reports whether an uploaded file name looks like an OPML export.
func IsOPMLFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".opml", ".xml":
		return true
	default:
		return false
	}
}

// UserID maps a Telegram chat to the application's user identity.
func UserID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}
