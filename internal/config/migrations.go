package config

import (
	"github.com/mattjoyce/pipelab/internal/migration"
)

// CurrentVersion is the settings schema version Config represents.
const CurrentVersion = "3.0.0"

var settingsChain = migration.MustNew("settings",
	migration.Step{From: "1.0.0", To: "2.0.0", Apply: addCacheFolder},
	migration.Step{From: "2.0.0", To: "3.0.0", Apply: addClearTemporaryFolders},
)

// Migrations exposes the settings migration chain.
func Migrations() *migration.Chain {
	return settingsChain
}

func addCacheFolder(doc map[string]any) (map[string]any, error) {
	if _, ok := doc["cache_folder"]; !ok {
		doc["cache_folder"] = DefaultCacheFolder()
	}
	return doc, nil
}

func addClearTemporaryFolders(doc map[string]any) (map[string]any, error) {
	if _, ok := doc["clear_temporary_folders_on_pipeline_end"]; !ok {
		doc["clear_temporary_folders_on_pipeline_end"] = false
	}
	return doc, nil
}
