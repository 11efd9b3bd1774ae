package tgui

import (
	"fmt"
	"strings"
)

// Data formats inline callback data as "area:action" or
// "area:action:payload". Payload is kept as-is (no escaping).
func Data(area, action, payload string) string {
	area = strings.TrimSpace(area)
	action = strings.TrimSpace(action)
	if payload == "" {
		return area + ":" + action
	}
	return area + ":" + action + ":" + payload
}

// Split parses callback data produced by Data. ok is false when data has no
// "area:action" prefix.
func Split(data string) (area, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}

// CheckData reports ErrCallbackDataTooLong when data exceeds Telegram's limit.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(data))
	}
	return nil
}
