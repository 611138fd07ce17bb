// Package version хранит сведения о сборке сервиса.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/stockorders/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var resolveOnce sync.Once

// Info возвращает версию, коммит и дату сборки. Если ldflags не заданы,
// коммит и дата берутся из VCS-меток debug.BuildInfo.
func Info() (v, c, d string) {
	resolveOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		commit, date = fromBuildSettings(info.Settings, commit, date)
		if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	})
	return version, commit, date
}

// String — строка для логов и /healthz.
func String() string {
	v, c, d := Info()
	return fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)
}

func fromBuildSettings(settings []debug.BuildSetting, c, d string) (string, string) {
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if c == "unknown" && s.Value != "" {
				c = s.Value
				if len(c) > 12 {
					c = c[:12]
				}
			}
		case "vcs.time":
			if d == "unknown" && s.Value != "" {
				d = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && c != "unknown" {
		c += "-dirty"
	}
	return c, d
}
