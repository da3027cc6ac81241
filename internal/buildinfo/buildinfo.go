package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Ces variables sont injectées à la compilation via -ldflags.
// Exemple :
//
//	-X github.com/Guilhem-Bonnet/donghua-tracker/internal/buildinfo.Version=v0.3.0
//	-X github.com/Guilhem-Bonnet/donghua-tracker/internal/buildinfo.Commit=abcdef
//	-X github.com/Guilhem-Bonnet/donghua-tracker/internal/buildinfo.Date=2026-10-16
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"goVersion,omitempty"`
}

// Current complète Commit depuis les infos VCS du binaire si -ldflags ne l'a pas fourni.
func Current() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Commit == "" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.Commit = s.Value
				}
			}
		}
	}
	return info
}

func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	short := i.Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", i.Version, short)
}
