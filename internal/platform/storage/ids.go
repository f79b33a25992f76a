package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// NextID returns prefix followed by the highest numeric suffix found among
// ids plus one, zero-padded to four digits. Ids with another prefix or a
// non-numeric suffix are ignored, so NextID("P", nil) is "P0001".
func NextID(prefix string, ids []string) string {
	highest := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(id[len(prefix):])
		if err != nil || n < 0 {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%04d", prefix, highest+1)
}
