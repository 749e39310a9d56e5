package main

import (
	"os"

	"mailalias/backend/cmd/aliasctl/commands"
)

func main() {
	// 错误已由 printer 以彩色格式输出
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
