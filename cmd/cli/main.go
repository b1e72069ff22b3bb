package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"arena/internal/cli/command"
	"arena/internal/cli/config"
	httpclient "arena/internal/cli/http"
	"arena/internal/cli/repl"
	"arena/internal/cli/state"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	user := flag.String("user", "", "Act as this user through trusted gateway headers")
	role := flag.String("role", "", "Role sent with -user")
	statePath := flag.String("state", "", "Override identity state path")
	pretty := flag.Bool("pretty", false, "Pretty print JSON response")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.StatePath = *statePath
	}
	if *pretty {
		trueValue := true
		cfg.PrettyJSON = &trueValue
	}

	identity, err := state.Load(cfg.StatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load identity state failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		identity.AccessToken = *token
	}
	if *user != "" {
		identity.UserID = *user
		identity.Role = *role
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() state.Identity {
		return identity
	})

	session := repl.New(client, command.Registry(), &identity, cfg.StatePath, cfg.PrettyJSON != nil && *cfg.PrettyJSON, os.Stdin, os.Stdout)

	// Non-flag arguments run a single command and exit.
	if args := flag.Args(); len(args) > 0 {
		if err := session.ExecTokens(context.Background(), args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	session.Run(context.Background())
}
