package deploy

import (
	"fmt"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// ParseMemoryLimit переводит человекочитаемый лимит ("512m", "1g") в байты.
// Разбор делает go-units — тот же код, что использует сам Docker CLI.
func ParseMemoryLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	b, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	return b, nil
}

// ParseCPULimit переводит десятичную долю ядра ("0.5") в NanoCPUs для Docker API
func ParseCPULimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid cpu limit %q", s)
	}
	return int64(v * 1e9), nil
}
