package build

import "strings"

var (
	Version = "dev"
	AppName = "Weave"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
