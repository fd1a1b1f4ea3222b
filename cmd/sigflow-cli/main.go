package main

import (
	"github.com/alecthomas/kong"
)

type globalOptions struct {
	ConfigFile string `help:"sigflow configuration file" short:"c" type:"path"`
	DSN        string `help:"PostgreSQL connection string of the signal store, overrides the config file"`
}

var cli struct {
	globalOptions

	GenKey      genKeyCmd      `cmd:"" help:"Generate a random 256-bit encryption key and print it as hex"`
	Encrypt     encryptCmd     `cmd:"" help:"Encrypt a value for seeding encrypted columns"`
	Decrypt     decryptCmd     `cmd:"" help:"Decrypt a stored value"`
	ListLoaders listLoadersCmd `cmd:"" help:"List every loader with its runtime state"`
	ListHistory listHistoryCmd `cmd:"" help:"List recent load history, newest first"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("sigflow-cli"),
		kong.Description("Operator tool for the sigflow signal store"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli.globalOptions)
	ctx.FatalIfErrorf(err)
}
