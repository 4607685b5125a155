package storage

import (
	"fmt"
	"strings"
	"time"
)

// WebhookPayloadPath returns the archive object key for a verified webhook delivery.
func WebhookPayloadPath(endpoint, eventID string, receivedAt time.Time) (string, error) {
	endpoint, err := validateSegment("endpoint", endpoint)
	if err != nil {
		return "", err
	}
	eventID, err = validateSegment("eventID", eventID)
	if err != nil {
		return "", err
	}
	day := receivedAt.UTC()
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json", endpoint, day.Year(), int(day.Month()), day.Day(), eventID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
