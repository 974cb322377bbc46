package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Bootstrap ensures ~/.memorycore exists with a default config.yaml. Safe to
// call repeatedly — it only creates what's missing and never overwrites an
// existing file.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{root, filepath.Join(root, "vectors")}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	configPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("memory core home directory OK", zap.String("home", root))
		return nil
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0644); err != nil {
		logger.Warn("failed to write default config", zap.String("path", configPath), zap.Error(err))
		return nil
	}
	logger.Info("memory core bootstrap complete", zap.String("home", root))
	return nil
}

const defaultConfigYAML = `# Auto-generated on first launch — feel free to edit.

database:
  type: sqlite
  dsn: memorycore.db

log:
  level: info
  format: json

vectorstore:
  type: memory
  dimension: 768

decay:
  min_retention: 0.05
  preserve_repetitions: 3
  decay_delete_threshold: 0.15

graphrag:
  ner_confidence_threshold: 0.8
  llm_invoke_text_length: 200
  max_relations: 10
`
