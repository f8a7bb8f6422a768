package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は掲示板取り込みと失効処理のワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// MigrateAction はmigrateサブコマンドの動作。
type MigrateAction struct {
	Down  bool
	Steps int
	// Versionは適用済みバージョンを表示するだけで変更しない
	Version bool
}

// ParseMigrateArgs はmigrate以降の引数を解析する。
//
//	migrate            未適用をすべて適用
//	migrate down [n]   直近n件（省略時1件）を戻す
//	migrate version    現在のバージョンを表示
func ParseMigrateArgs(args []string) (MigrateAction, error) {
	if len(args) == 0 || args[0] == "up" {
		return MigrateAction{}, nil
	}

	switch args[0] {
	case "version":
		return MigrateAction{Version: true}, nil
	case "down":
		action := MigrateAction{Down: true, Steps: 1}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return MigrateAction{}, fmt.Errorf("invalid step count: %q", args[1])
			}
			action.Steps = n
		}
		return action, nil
	default:
		return MigrateAction{}, fmt.Errorf("unknown migrate action: %q", args[0])
	}
}
