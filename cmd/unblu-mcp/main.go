// unblu-mcp exposes the Unblu REST API as MCP tools, allowing Claude
// Desktop and any MCP-compatible AI host to discover and call Unblu
// operations without loading 300+ tool definitions upfront.
//
// Add to Claude Desktop (~/.claude/claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "unblu": {
//	      "command": "/path/to/unblu-mcp",
//	      "args": ["--spec", "/path/to/swagger.json"]
//	    }
//	  }
//	}
//
// To reach a cluster-internal deployment through kubectl port-forward:
//
//	"args": ["--spec", "/path/to/swagger.json", "--provider", "k8s", "--environment", "t1"]
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/unblu/unblu-mcp/internal/apierr"
	"github.com/unblu/unblu-mcp/internal/audit"
	"github.com/unblu/unblu-mcp/internal/bridge"
	"github.com/unblu/unblu-mcp/internal/catalog"
	"github.com/unblu/unblu-mcp/internal/connection"
	"github.com/unblu/unblu-mcp/internal/policy"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	specPath         string
	policyPath       string
	providerKind     string
	environmentName  string
	environmentsFile string
	logDir           string
	rateLimitRPS     float64
	debug            bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// One clean line, no stack trace. Taxonomy errors already
		// render as "kind: message (hint)".
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "unblu-mcp",
	Short: "MCP server for the Unblu REST API",
	Long: `unblu-mcp is a stdio MCP server that exposes the full Unblu REST API
through five discovery tools:

  list_services        — list API service categories
  list_operations      — list operations in one service
  search_operations    — find operations by keyword
  get_operation_schema — full parameter/body schema for one operation
  call_api             — execute any API operation

The server runs in stdio mode (the MCP standard for local servers).
All logging goes to stderr and the audit file so it does not interfere
with the protocol.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&specPath, "spec", "", "Path to the OpenAPI spec file (default swagger.json, or UNBLU_MCP_SPEC)")
	rootCmd.Flags().StringVar(&policyPath, "policy", "", "Path to a JSON policy file restricting which operations may be called")
	rootCmd.Flags().StringVar(&providerKind, "provider", "default", `Connection provider: "default" (direct HTTP) or "k8s" (kubectl port-forward)`)
	rootCmd.Flags().StringVar(&environmentName, "environment", "", `Target environment for the k8s provider (e.g. "t1"; auto-detected from the kubectl context when empty)`)
	rootCmd.Flags().StringVar(&environmentsFile, "environments-file", "", "YAML file with custom environment definitions (default: built-in t1/t2/p1/e1)")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "Audit log directory (default ~/.unblu-mcp/logs, or UNBLU_MCP_LOG_DIR)")
	rootCmd.Flags().Float64Var(&rateLimitRPS, "rate-limit-rps", 0, "Maximum outbound API calls per second (0 = unlimited, or UNBLU_MCP_RATE_LIMIT_RPS)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func run(cmd *cobra.Command, _ []string) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetEnvPrefix("UNBLU_MCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("spec", "swagger.json")
	viper.SetDefault("rate_limit_rps", 0)
	viper.SetDefault("trusted_user_id", "superadmin")
	viper.SetDefault("trusted_user_role", "SUPER_ADMIN")

	if specPath == "" {
		specPath = viper.GetString("spec")
	}
	if rateLimitRPS == 0 {
		rateLimitRPS = viper.GetFloat64("rate_limit_rps")
	}

	// ── Logging ──────────────────────────────────────────────────────────────
	logCfg := zap.NewProductionConfig()
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.ErrorOutputPaths = []string{"stderr"}
	if debug {
		logCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := logCfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	// ── Catalog ──────────────────────────────────────────────────────────────
	data, err := os.ReadFile(specPath)
	if err != nil {
		return apierr.Configuration("pass --spec or set UNBLU_MCP_SPEC", "read spec file %s: %v", specPath, err)
	}
	cat, err := catalog.Load(data)
	if err != nil {
		return err
	}
	logger.Info("API catalog loaded",
		zap.String("spec", specPath),
		zap.Int("services", len(cat.ListServices())),
	)

	// ── Policy ───────────────────────────────────────────────────────────────
	var gate policy.Gate = policy.AllowAll{}
	if policyPath != "" {
		pol, err := policy.Load(policyPath)
		if err != nil {
			return err
		}
		gate = pol
		logger.Info("policy loaded", zap.String("path", policyPath), zap.String("policy", pol.Name))
	}

	// ── Connection provider ──────────────────────────────────────────────────
	provider, err := buildProvider(logger)
	if err != nil {
		return err
	}

	// ── Audit log ────────────────────────────────────────────────────────────
	auditLog, err := audit.Open(logDir)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close() //nolint:errcheck
	if p := auditLog.Path(); p != "" {
		logger.Info("audit log open", zap.String("path", p))
	}

	srv := bridge.New(bridge.Options{
		Catalog:      cat,
		Provider:     provider,
		Gate:         gate,
		Audit:        auditLog,
		Logger:       logger,
		Version:      version,
		RateLimitRPS: rateLimitRPS,
	})
	return srv.ServeStdio(cmd.Context())
}

// buildProvider assembles the connection provider selected by --provider.
func buildProvider(logger *zap.Logger) (connection.Provider, error) {
	switch providerKind {
	case "default":
		return connection.NewDefaultProvider("", "", "", "", nil), nil

	case "k8s":
		envs := connection.DefaultEnvironments
		if environmentsFile != "" {
			loaded, err := connection.LoadEnvironments(environmentsFile)
			if err != nil {
				return nil, err
			}
			envs = loaded
		}

		name := environmentName
		if name == "" {
			name = connection.DetectEnvironment(envs)
			if name == "" {
				return nil, apierr.Configuration(
					"pass --environment or switch the kubectl context",
					"could not detect an environment from the kubectl context")
			}
			logger.Info("environment detected from kubectl context", zap.String("environment", name))
		}
		env, err := connection.ResolveEnvironment(name, envs)
		if err != nil {
			return nil, err
		}
		logger.Info("k8s provider selected",
			zap.String("environment", name),
			zap.String("namespace", env.Namespace),
			zap.Int("local_port", env.LocalPort),
		)
		return connection.NewKubeProvider(env,
			viper.GetString("trusted_user_id"),
			viper.GetString("trusted_user_role"),
			logger,
		), nil

	default:
		return nil, apierr.Configuration(`use "default" or "k8s"`, "unknown provider %q", providerKind)
	}
}
