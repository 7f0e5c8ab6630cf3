package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// DashboardPath is the HTTP path a dashboard is served under.
func DashboardPath(componentID, name string) string {
	return "/dashboards/" + componentID + "/" + name + ".json"
}

// DashboardsMap materializes dashboard content to URL paths.
func DashboardsMap(components []Component) map[string][]byte {
	result := make(map[string][]byte)
	for _, component := range components {
		manifest := component.Manifest()
		for _, dash := range component.Dashboards() {
			result[DashboardPath(manifest.ID, dash.Name)] = dash.JSON
		}
	}
	return result
}

// WriteDashboards writes dashboards to disk for Grafana provisioning.
func WriteDashboards(dir string, components []Component) error {
	if dir == "" {
		return nil
	}

	for _, component := range components {
		manifest := component.Manifest()
		for _, dash := range component.Dashboards() {
			componentDir := filepath.Join(dir, manifest.ID)
			if err := os.MkdirAll(componentDir, 0o755); err != nil {
				return fmt.Errorf("create dashboard dir: %w", err)
			}
			path := filepath.Join(componentDir, dash.Name+".json")
			if err := os.WriteFile(path, dash.JSON, 0o644); err != nil {
				return fmt.Errorf("write dashboard %s: %w", path, err)
			}
		}
	}

	return nil
}
