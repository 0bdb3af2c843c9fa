package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/wspnet/subengine/internal/app"
	"github.com/wspnet/subengine/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run dispatches to a subcommand; without one it starts the server.
func run(ctx context.Context, args []string) error {
	if errEnv := config.LoadDotEnv(); errEnv != nil {
		return errEnv
	}

	command := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("subengine "+command, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", config.DefaultPort, "server port")
	operatorID := fs.Uint64("operator", 0, "operator id for the token subcommand")
	dbType := fs.String("db-type", "sqlite", "database type for init: sqlite or postgres")
	dbPath := fs.String("db-path", "", "sqlite file for init")
	dbHost := fs.String("db-host", "", "postgres host for init")
	dbPort := fs.Int("db-port", 5432, "postgres port for init")
	dbUser := fs.String("db-user", "", "postgres user for init")
	dbPassword := fs.String("db-password", "", "postgres password for init")
	dbName := fs.String("db-name", "", "postgres database for init")
	poolMbps := fs.Int64("pool-mbps", 0, "bandwidth pool total in Mbps for init")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}
	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	switch command {
	case "serve":
		return app.RunServer(ctx, appCfg, portOverride(fs, *port))
	case "migrate":
		if errMigrate := app.Migrate(ctx, appCfg); errMigrate != nil {
			return errMigrate
		}
		log.Info("migrations applied")
		return nil
	case "init":
		return app.WriteStarterConfig(config.ResolveConfigPath(appCfg.ConfigPath), app.InitParams{
			DatabaseType:     *dbType,
			DatabasePath:     *dbPath,
			DatabaseHost:     *dbHost,
			DatabasePort:     *dbPort,
			DatabaseUser:     *dbUser,
			DatabasePassword: *dbPassword,
			DatabaseName:     *dbName,
			ServerPort:       *port,
			PoolTotalMbps:    *poolMbps,
		})
	case "token":
		token, errToken := app.IssueToken(appCfg, *operatorID)
		if errToken != nil {
			return errToken
		}
		fmt.Println(token)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want serve, migrate, init or token)", command)
	}
}

// portOverride returns the -port value only when the flag was set explicitly,
// so the config file's server.port applies otherwise.
func portOverride(fs *flag.FlagSet, port int) int {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "port" {
			set = true
		}
	})
	if !set {
		return 0
	}
	return port
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
