// Package templates embeds the default files written by "observatory setup".
package templates

import "embed"

//go:embed config.yaml fields.yaml mount_commands.yaml weather.yaml
var FS embed.FS
