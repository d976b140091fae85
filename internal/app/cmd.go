package app

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Command はサブコマンド名を表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCreateUser はユーザーを登録することを示す。
	CommandCreateUser Command = "create-user"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はauthgateのコマンドツリーを構築する。
// サブコマンドなしで起動した場合はserveとして動作する。
// wはログの出力先で、nilの場合はos.Stdout。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newServeCommand(w)

	root := &cobra.Command{
		Use:          "authgate",
		Short:        "Session-gated web application with email and password sign-in",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(
		serve,
		newMigrateCommand(w),
		newCreateUserCommand(w),
		newHealthcheckCommand(),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandServe),
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return Migrate(cfg)
		},
	}
}

func newCreateUserCommand(w io.Writer) *cobra.Command {
	var email, name, password string

	cmd := &cobra.Command{
		Use:   string(CommandCreateUser),
		Short: "Register a user who can sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return CreateUser(cmd.Context(), cfg, email, name, password)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address used to sign in")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password (at least 6 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// healthcheck は軽量サブコマンドのため、設定の読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check that the local server answers /health",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if port == "" {
				port = os.Getenv("SERVER_PORT")
			}
			if port == "" {
				port = "8080"
			}
			return Healthcheck(port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "server port (defaults to SERVER_PORT or 8080)")
	return cmd
}
