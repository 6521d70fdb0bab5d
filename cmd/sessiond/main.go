package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/sessiond/cmd/sessiond/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug        bool `help:"Enable debug mode." env:"SESSIOND_DEBUG"`
		Version      kong.VersionFlag
		Serve        commands.ServeCmd        `cmd:"" help:"Run the session API and the expired session reaper"`
		Migrate      commands.MigrateCmd      `cmd:"" help:"Apply database migrations"`
		Reap         commands.ReapCmd         `cmd:"" help:"Delete expired sessions once and exit"`
		HashPassword commands.HashPasswordCmd `cmd:"" help:"Print a bcrypt hash for a user seed file"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("sessiond"),
		kong.Description("Session and credential lifecycle service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
