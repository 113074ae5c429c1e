package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"humanoid/internal/config"
	"humanoid/internal/model/credential"
	"humanoid/internal/pkg/id"
	"humanoid/internal/pkg/logger"
	"humanoid/internal/pkg/mongodb"
	credrepo "humanoid/internal/repository/credential"
)

// 从命令行直接录入一个供应商凭证，绕过HTTP管理接口
// 用法: go run ./scripts/add_token -name mytoken -secret hf_xxx [-capacity 1]
func main() {
	name := flag.String("name", "", "凭证名称")
	secret := flag.String("secret", "", "供应商 API key")
	capacity := flag.Int("capacity", 1, "并发分配容量")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "usage: add_token -name <name> -secret <key> [-capacity N]")
		os.Exit(1)
	}
	if *name == "" {
		*name = "token-" + (*secret)[:min(8, len(*secret))]
	}

	// 加载配置（与 cmd/root.go 保持一致的搜索路径）
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.humanoid")

	viper.SetEnvPrefix("HUMANOID")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		os.Exit(1)
	}

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	client, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mongo")
	}
	defer func() {
		_ = client.Close(context.Background())
	}()

	ctx := context.Background()
	tokenRepo := credrepo.NewTokenRepo(client.Database())

	if existing, _ := tokenRepo.FindBySecret(ctx, *secret); existing != nil {
		fmt.Printf("Token already exists: id=%s name=%s\n", existing.ID, existing.Name)
		return
	}

	token := &credential.Token{
		ID:       id.New(),
		Secret:   *secret,
		Name:     *name,
		Capacity: *capacity,
		Active:   true,
	}
	if err := tokenRepo.Create(ctx, token); err != nil {
		log.Fatal().Err(err).Msg("failed to create token")
	}

	fmt.Printf("Token added: id=%s name=%s preview=%s capacity=%d\n",
		token.ID, token.Name, token.MaskedSecret(), token.Capacity)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
