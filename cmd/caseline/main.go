package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "caseline",
	Short: "Caseline case management CLI",
	Long: `Caseline runs a role-based case workflow backed by a store and a ledger.
- Actors register with a wallet and wait for verification by an admin or caseworker.
- Verified submitters file cases; admins assign caseworkers; caseworkers close or reject.
- Verification, caseworker creation and assignment are written to the ledger first.
- Registration, filing and status changes are stored first; the ledger copy is best effort.
- Commands act as the wallet given with --as (or CASELINE_AS).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(viper.GetString("log-level"), viper.GetString("log-format"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	// A missing .env is normal.
	_ = godotenv.Load(filepath.Join(workspace, ".env"))
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "wallet of the acting actor")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "as", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(caseworkerCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(eventsCmd())
}

func setupLogger(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("--log-format must be text or json")
	}
	return nil
}

func logger() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

func initCmd() *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create caseline.yml, the database and a JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			norm, ok := domain.NormalizeWallet(admin)
			if !ok {
				return fmt.Errorf("--admin must be a wallet address")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(norm)), 0o644); err != nil {
				return err
			}
			envPath := filepath.Join(workspace, ".env")
			if os.Getenv("CASELINE_JWT_SECRET") == "" {
				if err := setEnvValue(envPath, "CASELINE_JWT_SECRET", uuid.NewString()); err != nil {
					return err
				}
			}
			a, err := app.Open(cmd.Context(), workspace, logger())
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Printf("Wrote %s and %s; admin %s is ready\n", path, envPath, norm)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "admin wallet address")
	cmd.Flags().Bool("force", false, "overwrite an existing config")
	_ = viper.BindPFlag("force", cmd.Flags().Lookup("force"))
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var dev bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger()
			a, err := app.Open(ctx, viper.GetString("workspace"), log)
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret: viper.GetString("jwt-secret"),
				DevMode:   dev,
				Log:       log,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Content:  a.Content,
				BasePath: basePath,
				Auth:     authCfg,
				Log:      log,
			})
			if err != nil {
				return err
			}
			dispatcher, err := a.StartNotifications()
			if err != nil {
				return err
			}
			if dispatcher != nil {
				go dispatcher.Run(ctx)
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath, "dev": dev}).Info("serving caseline api")
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&dev, "dev", false, "enable unsigned registration and /auth/dev/login")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), logger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// actingID resolves the --as wallet to an actor id.
func actingID(ctx context.Context, a *app.App) (string, error) {
	wallet := strings.TrimSpace(viper.GetString("as"))
	if wallet == "" {
		return "", fmt.Errorf("--as (or CASELINE_AS) is required for this command")
	}
	found, ok, err := a.Engine.ResolveActor(ctx, wallet)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("wallet %s is not registered", wallet)
	}
	return found.Actor.ID, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
