package analytics

import "fmt"

const visitorHashLength = 16

// ValidateDownloadEventPayload validates download event payload fields.
func ValidateDownloadEventPayload(payload DownloadEventPayload) error {
	if payload.BoxID <= 0 {
		return fmt.Errorf("bid must be positive")
	}
	if payload.ItemID <= 0 {
		return fmt.Errorf("iid must be positive")
	}
	if payload.VisitorHash == "" {
		return fmt.Errorf("vh is required")
	}
	if len(payload.VisitorHash) != visitorHashLength || !isHex(payload.VisitorHash) {
		return fmt.Errorf("vh must be %d hex chars", visitorHashLength)
	}
	if payload.DownloadedAt <= 0 {
		return fmt.Errorf("t must be set")
	}
	return nil
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F') {
			continue
		}
		return false
	}
	return true
}
