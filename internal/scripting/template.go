package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// GameTemplate is a script bundle's game.toml metadata: a name, version,
// and an optional ordered script list. An empty Scripts list means "load
// every .lua file in scripts/ alphabetically" instead of a fixed order.
type GameTemplate struct {
	Name        string   `toml:"name"`
	Version     string   `toml:"version"`
	Description string   `toml:"description"`
	Scripts     []string `toml:"scripts"`
}

// LoadTemplate loads a script bundle rooted at dir: dir/game.toml
// describes it, dir/scripts/ holds the Lua files. Scripts named in
// game.toml's scripts list load in that order; an empty list falls back
// to LoadDir's alphabetical sweep of dir/scripts/.
func (e *Engine) LoadTemplate(dir string) (GameTemplate, error) {
	var tmpl GameTemplate
	configPath := filepath.Join(dir, "game.toml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		return tmpl, fmt.Errorf("read %s: %w", configPath, err)
	}
	if _, err := toml.Decode(string(data), &tmpl); err != nil {
		return tmpl, fmt.Errorf("parse %s: %w", configPath, err)
	}

	scriptsDir := filepath.Join(dir, "scripts")
	if len(tmpl.Scripts) == 0 {
		if err := e.LoadDir(scriptsDir); err != nil {
			return tmpl, err
		}
		if e.log != nil {
			e.log.Debug("loaded game template", zap.String("name", tmpl.Name), zap.String("version", tmpl.Version))
		}
		return tmpl, nil
	}

	for _, name := range tmpl.Scripts {
		path := filepath.Join(scriptsDir, name)
		if _, err := os.Stat(path); err != nil && filepath.Ext(name) == "" {
			path = filepath.Join(scriptsDir, name+".lua")
		}
		if err := e.vm.DoFile(path); err != nil {
			return tmpl, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if e.log != nil {
		e.log.Debug("loaded game template", zap.String("name", tmpl.Name), zap.String("version", tmpl.Version))
	}
	return tmpl, nil
}
