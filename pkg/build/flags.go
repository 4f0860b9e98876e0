// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata stamped into the binary with -ldflags:
//
//	go build -ldflags "-X specstream/pkg/build.buildName=specstream \
//	  -X specstream/pkg/build.buildVersion=v0.3.0 ..."
//
// Development builds carry no flags; Initialize reports which ones are missing
// and the process continues with "dev" placeholders.
package build

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingFlag is returned by Initialize when a linker flag was not set.
var ErrMissingFlag = errors.New("build flag missing")

// Info is the build metadata reported by `specstream version`.
type Info struct {
	Name    string `json:"name"`
	Time    string `json:"time"`
	Commit  string `json:"commit"`
	Version string `json:"version"`
}

// String renders the metadata on one line.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = devInfo()
)

func devInfo() *Info {
	return &Info{Name: "specstream", Time: "dev", Commit: "dev", Version: "dev"}
}

// Initialize copies the linker-provided values into the shared Info. Missing
// values keep their placeholder and are listed in the returned error.
func Initialize() error {
	var missing []string
	set := func(name, value string, dst *string) {
		if value == "" {
			missing = append(missing, name)
			return
		}
		*dst = value
	}

	set("buildName", buildName, &buildInfo.Name)
	set("buildTime", buildTime, &buildInfo.Time)
	set("buildCommit", buildCommit, &buildInfo.Commit)
	set("buildVersion", buildVersion, &buildInfo.Version)

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingFlag, strings.Join(missing, ", "))
	}
	return nil
}

// GetBuildFlags returns the current build metadata.
func GetBuildFlags() Info {
	return *buildInfo
}
