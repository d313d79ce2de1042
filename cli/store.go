package cli

import (
	"fmt"

	"github.com/smallnest/kanban/config"
	"github.com/smallnest/kanban/internal/logger"
	"github.com/smallnest/kanban/tasks"
	"go.uber.org/zap"
)

// storeHandle is an opened task store and its backend.
type storeHandle struct {
	manager    tasks.Manager
	persistent *tasks.PersistentManager
	file       *tasks.FileSnapshotter
	close      func() error
}

// openStore 按配置打开存储
func openStore(cfg *config.Config) (*storeHandle, error) {
	history := tasks.NewHistory(cfg.History.Capacity)

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return &storeHandle{
			manager: tasks.NewInMemoryManager(history),
			close:   func() error { return nil },
		}, nil

	case config.BackendSQLite:
		backend, err := tasks.NewSQLiteSnapshotter(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		m, err := tasks.LoadPersistentManager(backend, history)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		logger.Debug("Opened sqlite task store", zap.String("path", cfg.Storage.Path))
		return &storeHandle{manager: m, persistent: m, close: backend.Close}, nil

	case config.BackendFile, "":
		loc, err := cfg.Storage.TimeLocation()
		if err != nil {
			return nil, err
		}
		backend, err := tasks.NewFileSnapshotter(cfg.Storage.Path, tasks.CSVCodec{Location: loc})
		if err != nil {
			return nil, err
		}
		m, err := tasks.LoadPersistentManager(backend, history)
		if err != nil {
			return nil, err
		}
		logger.Debug("Opened file task store", zap.String("path", cfg.Storage.Path))
		return &storeHandle{manager: m, persistent: m, file: backend, close: func() error { return nil }}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
