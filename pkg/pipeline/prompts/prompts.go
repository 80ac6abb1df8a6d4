// Package prompts embeds the prompt templates used by the pipeline stages.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
