package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/samsaffron/nvim-llm/internal/chat"
	"github.com/samsaffron/nvim-llm/internal/config"
	"github.com/samsaffron/nvim-llm/internal/exitcode"
)

func loadStore() (*config.Store, error) {
	store := config.NewStore(configPath)
	if err := store.Load(); err != nil {
		return nil, exitcode.Config(fmt.Errorf("failed to load config: %w", err))
	}
	return store, nil
}

func loadConfig() (config.Config, error) {
	store, err := loadStore()
	if err != nil {
		return config.Config{}, err
	}
	return store.Current(), nil
}

func indexPath(cfg config.Config) string {
	return filepath.Join(cfg.Chat.LogDir, "index.db")
}

// openChatLogs opens the saved chat directory and its search index.
func openChatLogs(cfg config.Config) (*chat.LogStore, *chat.Index, error) {
	idx, err := chat.OpenIndex(indexPath(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open chat index: %w", err)
	}
	return chat.NewLogStore(cfg.Chat.LogDir, cfg.Chat.LogFormat, idx), idx, nil
}
