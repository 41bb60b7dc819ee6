package main

import (
	"strings"

	"triton/pkg/compiler"
	"triton/pkg/config"
)

func parseStages(list string) map[string]bool {
	show := make(map[string]bool)
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			show[s] = true
		}
	}
	return show
}

// compile never returns a nil Output, so partial results can be printed
// next to the error.
func compile(src string, cfg *config.Config) (*compiler.Output, error) {
	out, err := compiler.CompileWith(src, cfg.CompileOptions())
	if out == nil {
		out = &compiler.Output{}
	}
	return out, err
}
