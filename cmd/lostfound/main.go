// Command lostfound は落とし物ポータルのAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	lostfound [serve]            APIサーバー
//	lostfound worker             掲示板取り込みと自動提案の失効処理
//	lostfound migrate [down [n]|version]
//	lostfound healthcheck        Dockerヘルスチェック用
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/lostfound/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "lostfound: %v\n", err)
		os.Exit(1)
	}
}
