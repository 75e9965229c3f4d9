package main

import (
	"fmt"
	"runtime/debug"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/orgimpact/
var version = "dev"

func printVersion() {
	fmt.Println(versionString())
}

func versionString() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	s := fmt.Sprintf("%s (%s)", version, info.GoVersion)
	for _, kv := range info.Settings {
		if kv.Key == "vcs.revision" && len(kv.Value) >= 7 {
			s += " " + kv.Value[:7]
		}
	}
	return s
}
