package app

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// stdoutはコマンドの出力先、logOutはserveのログ出力先。
// argsにはos.Args[1:]を渡す。
func Run(stdout, logOut io.Writer, args []string) error {
	root := NewRootCommand(stdout, logOut)
	root.SetArgs(args)
	return root.Execute()
}

// NewRootCommand はルートコマンドを生成する。
// サブコマンド省略時はserveとして動作する。
func NewRootCommand(stdout, logOut io.Writer) *cobra.Command {
	serve := newServeCommand(logOut)

	root := &cobra.Command{
		Use:           "mcwhitelist",
		Short:         "Minecraft whitelist portal session loader",
		Long:          "mcwhitelist resolves the signed-in user from the backend session endpoint and serves it as layout data.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.SetOut(stdout)

	root.AddCommand(
		serve,
		newWhoamiCommand(),
		newHealthcheckCommand(),
	)

	return root
}

func newServeCommand(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(logOut)
			if err != nil {
				return err
			}

			slog.Info("starting application",
				slog.String("command", "serve"),
				slog.String("port", cfg.ServerPort),
				slog.String("base_url", cfg.BaseURL),
			)

			return runServe(cfg)
		},
	}
}

// whoamiのログはlogOutではなくコマンドの標準エラー出力に書く。
func newWhoamiCommand() *cobra.Command {
	var cookies []string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Load the current session once and print the layout data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runWhoami(cmd.Context(), cfg, cmd.OutOrStdout(), cookies)
		},
	}
	cmd.Flags().StringArrayVar(&cookies, "cookie", nil, "cookie to send as name=value (repeatable)")

	return cmd
}

// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the local server's /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(healthcheckPort())
		},
	}
}
