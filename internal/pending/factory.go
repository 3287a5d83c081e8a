package pending

import (
	"fmt"

	"newswave/internal/config"
	"newswave/internal/nw"
)

// NewQueueFromConfig creates a pending Queue based on the pending config type.
func NewQueueFromConfig(cfg config.PendingConfig, clock nw.Clock, idgen nw.IDGenerator) (*Queue, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryQueue(clock, idgen), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem pending queue requires dir to be set")
		}
		return NewFileSystemQueue(cfg.Dir, clock, idgen)
	default:
		return nil, fmt.Errorf("unknown pending queue type: %s", cfg.Type)
	}
}
